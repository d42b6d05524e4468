package rpc_test

import (
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
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

var _ = Describe("Notification Feed", func() {
	var (
		server *httptest.Server
		coord  *coordinator.Coordinator

		owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		maker    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
		resolver = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	)

	BeforeEach(func() {
		logger, err := zap.NewDevelopment()
		Expect(err).To(BeNil())

		alpha := simchain.New(adapter.ChainConfig{Name: "alpha", RequiredConfirmations: 1, BlockTime: 5 * time.Millisecond},
			ledger.New("alpha", owner, logger), logger)
		beta := simchain.New(adapter.ChainConfig{Name: "beta", RequiredConfirmations: 1, BlockTime: 5 * time.Millisecond},
			ledger.New("beta", owner, logger), logger)

		db, err := gorm.Open(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "dusk.db")))
		Expect(err).To(BeNil())
		orderDB, err := store.NewOrderStore(db)
		Expect(err).To(BeNil())

		coord = coordinator.New(coordinator.Config{
			Signer:           resolver,
			RefreshInterval:  20 * time.Millisecond,
			RecoveryInterval: time.Hour,
			ShutdownTimeout:  time.Second,
		}, []adapter.Adapter{alpha, beta}, orderDB, store.NewMemStore(), logger)
		Expect(coord.Start()).To(Succeed())

		server = httptest.NewServer(rpc.NewServer(coord, logger).Handler())
	})

	AfterEach(func() {
		server.Close()
		coord.Stop()
	})

	dial := func() *websocket.Conn {
		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).To(BeNil())
		return conn
	}

	It("should stream the full feed to every connected client", func() {
		first := dial()
		defer first.Close()
		second := dial()
		defer second.Close()

		_, err := coord.CreateOrder(coordinator.CreateOrderParams{
			OrderID:         "order-1",
			Maker:           maker,
			Receiver:        maker,
			SrcChain:        "alpha",
			DestChain:       "beta",
			SrcAmount:       big.NewInt(100_000),
			DestAmount:      big.NewInt(99_000),
			TimelockSeconds: 7200,
			AuctionDuration: 300,
			StartRate:       big.NewInt(1_000_000),
			EndRate:         big.NewInt(980_000),
		})
		Expect(err).To(BeNil())

		// Auction updates flow continuously; both clients must receive them,
		// not split the stream between themselves.
		for _, conn := range []*websocket.Conn{first, second} {
			Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())

			var notification coordinator.Notification
			Expect(conn.ReadJSON(&notification)).To(Succeed())
			Expect(notification.Type).To(Equal(coordinator.NotifyAuctionUpdate))
			Expect(notification.OrderID).To(Equal("order-1"))
			Expect(notification.Rate).ToNot(BeNil())
		}
	})
})
