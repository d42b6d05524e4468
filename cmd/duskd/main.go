package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/duskd"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	config := parseConfig(logger)
	daemon, err := duskd.New(config, logger)
	if err != nil {
		logger.Fatal("construct daemon", zap.Error(err))
	}

	if err := daemon.Start(); err != nil {
		logger.Fatal("start daemon", zap.Error(err))
	}
	defer daemon.Stop()
	logger.Info("duskd running", zap.String("rpc", config.RPCAddr))

	// waiting system signal
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func parseConfig(logger *zap.Logger) duskd.Config {
	path := os.Getenv("DUSK_CONFIG")
	if path == "" {
		path = "config.json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("read config", zap.String("path", path), zap.Error(err))
	}

	var config duskd.Config
	if err := json.Unmarshal(data, &config); err != nil {
		logger.Fatal("parse config", zap.String("path", path), zap.Error(err))
	}
	for i := range config.Chains {
		if config.Chains[i].BlockTime <= 0 {
			config.Chains[i].BlockTime = 2 * time.Second
		}
		if config.Chains[i].Confirmations == 0 {
			config.Chains[i].Confirmations = 1
		}
	}
	if config.RPCAddr == "" {
		config.RPCAddr = ":8546"
	}
	if config.DBPath == "" {
		config.DBPath = "dusk.db"
	}
	return config
}
