package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/coordinator"
)

// Request defines a JSON-RPC 2.0 request object.
type Request struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response defines a JSON-RPC 2.0 response object.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error defines a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Error codes
const (
	ErrorCodeParseError        = -32700
	ErrorMessageParseError     = "Parse error"
	ErrorCodeMethodNotFound    = -32601
	ErrorMessageMethodNotFound = "Method not found"
	ErrorCodeInvalidParams     = -32602
	ErrorMessageInvalidParams  = "Invalid params"
	ErrorCodeInternalError     = -32603
	ErrorMessageInternalError  = "Internal error"
)

func NewResponse(id interface{}, result json.RawMessage, err *Error) Response {
	return Response{
		Version: "2.0",
		ID:      id,
		Result:  result,
		Error:   err,
	}
}

func NewError(code int, message string, data string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

type orderParams struct {
	OrderID string `json:"orderId"`
}

// Server exposes the coordinator's snapshot API over JSON-RPC and streams its
// notification feed over a websocket.
type Server struct {
	router *gin.Engine
	coord  *coordinator.Coordinator
	logger *zap.Logger

	mu   sync.Mutex
	subs map[chan coordinator.Notification]struct{}
}

func NewServer(coord *coordinator.Coordinator, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router: gin.New(),
		coord:  coord,
		logger: logger.With(zap.String("service", "rpc")),
		subs:   map[chan coordinator.Notification]struct{}{},
	}
	go s.fanout()

	s.router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	s.router.POST("/", s.handleJSONRPC)
	s.router.GET("/feed", s.feed())
	return s
}

// Handler exposes the routed handler so callers can mount or test the server
// without binding a listener.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context, addr string) error {
	service := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := service.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("listen", zap.Error(err))
		}
		s.logger.Info("stopped")
	}()
	<-ctx.Done()
	return service.Shutdown(context.Background())
}

func (s *Server) handleJSONRPC(ctx *gin.Context) {
	req := Request{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, NewError(ErrorCodeParseError, ErrorMessageParseError, err.Error())))
		return
	}

	var (
		result interface{}
		rpcErr *Error
	)
	switch req.Method {
	case "getState":
		result = s.coord.GetState()
	case "getOrders":
		result = s.coord.Orders()
	case "getOrder":
		params, err := decodeOrderParams(req.Params)
		if err != nil {
			rpcErr = NewError(ErrorCodeInvalidParams, ErrorMessageInvalidParams, err.Error())
			break
		}
		order, ok := s.coord.GetOrder(params.OrderID)
		if !ok {
			rpcErr = NewError(ErrorCodeInvalidParams, ErrorMessageInvalidParams, "order not found")
			break
		}
		result = order
	case "getSwap":
		params, err := decodeOrderParams(req.Params)
		if err != nil {
			rpcErr = NewError(ErrorCodeInvalidParams, ErrorMessageInvalidParams, err.Error())
			break
		}
		swap, ok := s.coord.GetSwap(params.OrderID)
		if !ok {
			rpcErr = NewError(ErrorCodeInvalidParams, ErrorMessageInvalidParams, "swap not found")
			break
		}
		result = swap
	case "getErrors":
		result = s.coord.ErrorLog().Records()
	default:
		ctx.JSON(http.StatusNotFound, NewResponse(req.ID, nil, NewError(ErrorCodeMethodNotFound, ErrorMessageMethodNotFound, "")))
		return
	}

	if rpcErr != nil {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, rpcErr))
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, NewResponse(req.ID, nil, NewError(ErrorCodeInternalError, ErrorMessageInternalError, err.Error())))
		return
	}
	ctx.JSON(http.StatusOK, NewResponse(req.ID, data, nil))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// fanout copies each coordinator notification to every connected feed
// subscriber, so concurrent clients all see the full stream. A subscriber
// with a full buffer drops notifications rather than holding up the rest.
func (s *Server) fanout() {
	for notification := range s.coord.Notifications() {
		s.mu.Lock()
		for sub := range s.subs {
			select {
			case sub <- notification:
			default:
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) subscribe() chan coordinator.Notification {
	sub := make(chan coordinator.Notification, 64)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub chan coordinator.Notification) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// feed streams coordinator notifications to the client until it disconnects.
func (s *Server) feed() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer ws.Close()

		sub := s.subscribe()
		defer s.unsubscribe(sub)

		for notification := range sub {
			if err := ws.WriteJSON(notification); err != nil {
				s.logger.Debug("failed to write notification", zap.Error(err))
				return
			}
		}
	}
}

func decodeOrderParams(raw json.RawMessage) (orderParams, error) {
	var params orderParams
	err := json.Unmarshal(raw, &params)
	return params, err
}
