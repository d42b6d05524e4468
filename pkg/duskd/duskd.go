package duskd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/adapter/simchain"
	"github.com/duskswap/dusk/pkg/coordinator"
	"github.com/duskswap/dusk/pkg/ledger"
	"github.com/duskswap/dusk/pkg/store"
	"github.com/duskswap/dusk/rpc"
)

// ChainSetup configures one participating chain.
type ChainSetup struct {
	Name           string
	Owner          string
	Confirmations  uint64
	BlockTime      time.Duration
	HealthInterval time.Duration
}

type Config struct {
	// Signer is the resolver address this daemon submits counter-withdrawals
	// and recovery cancels as.
	Signer string

	Chains []ChainSetup

	// DBPath is the sqlite file backing the order store.
	DBPath string

	// RedisURL enables the redis action store; empty falls back to the
	// in-memory store, losing submission dedup across restarts.
	RedisURL string

	RPCAddr string
}

// Dusk wires the ledgers, adapters, coordinator and rpc surface together.
type Dusk struct {
	coord  *coordinator.Coordinator
	chains []*simchain.Chain
	server *rpc.Server
	logger *zap.Logger

	rpcAddr   string
	rpcCancel context.CancelFunc
}

func New(config Config, logger *zap.Logger) (*Dusk, error) {
	if len(config.Chains) != 2 {
		return nil, fmt.Errorf("expected 2 chains, got %d", len(config.Chains))
	}
	if !common.IsHexAddress(config.Signer) {
		return nil, fmt.Errorf("invalid signer address %q", config.Signer)
	}
	signer := common.HexToAddress(config.Signer)

	chains := make([]*simchain.Chain, 0, len(config.Chains))
	adapters := make([]adapter.Adapter, 0, len(config.Chains))
	for _, setup := range config.Chains {
		if !common.IsHexAddress(setup.Owner) {
			return nil, fmt.Errorf("invalid owner address %q on chain %q", setup.Owner, setup.Name)
		}
		owner := common.HexToAddress(setup.Owner)

		l := ledger.New(setup.Name, owner, logger)
		if err := l.SetResolver(owner, signer, true); err != nil {
			return nil, err
		}

		chain := simchain.New(adapter.ChainConfig{
			Name:                  setup.Name,
			RequiredConfirmations: setup.Confirmations,
			BlockTime:             setup.BlockTime,
			HealthInterval:        setup.HealthInterval,
		}, l, logger)
		chains = append(chains, chain)
		adapters = append(adapters, chain)
	}

	db, err := gorm.Open(sqlite.Open(config.DBPath), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	orderStore, err := store.NewOrderStore(db)
	if err != nil {
		return nil, err
	}

	var actions store.ActionStore
	if config.RedisURL != "" {
		actions, err = store.NewRedisStore(config.RedisURL)
		if err != nil {
			return nil, err
		}
	} else {
		actions = store.NewMemStore()
	}

	coord := coordinator.New(coordinator.Config{Signer: signer}, adapters, orderStore, actions, logger)

	return &Dusk{
		coord:   coord,
		chains:  chains,
		server:  rpc.NewServer(coord, logger),
		logger:  logger,
		rpcAddr: config.RPCAddr,
	}, nil
}

// Coordinator exposes the running coordinator to embedders.
func (d *Dusk) Coordinator() *coordinator.Coordinator {
	return d.coord
}

func (d *Dusk) Start() error {
	for _, chain := range d.chains {
		chain.Start()
	}
	if err := d.coord.Start(); err != nil {
		return err
	}

	if d.rpcAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		d.rpcCancel = cancel
		go func() {
			if err := d.server.Run(ctx, d.rpcAddr); err != nil {
				d.logger.Error("rpc server", zap.Error(err))
			}
		}()
	}
	return nil
}

func (d *Dusk) Stop() {
	if d.rpcCancel != nil {
		d.rpcCancel()
	}
	d.coord.Stop()
	for _, chain := range d.chains {
		chain.Stop()
	}
}
