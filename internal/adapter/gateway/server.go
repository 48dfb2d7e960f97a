package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"searchchat/internal/domain"
)

const (
	sendQueueSize    = 64
	requestQueueSize = 8
	maxThreadIDLen   = 128
	writeTimeout     = 5 * time.Second
)

var errConnClosed = errors.New("gateway: connection closed")

// ChatService runs chat sessions on behalf of connected clients.
type ChatService interface {
	Start(ctx context.Context, sessionID, threadID string, sink domain.ReplySink) error
	HandleMessage(ctx context.Context, sessionID, text string) error
	End(ctx context.Context, sessionID string) error
	Discard(ctx context.Context, sessionID string)
}

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection. Each connection is one
// chat session.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame // outbound queue
	reqCh     chan Frame // inbound RPCs, handled one at a time
	done      chan struct{}
	closeOnce sync.Once
	ended     atomic.Bool
}

func (cc *clientConn) close() { cc.closeOnce.Do(func() { close(cc.done) }) }

// push queues a frame, waiting while the queue is full.
func (cc *clientConn) push(ctx context.Context, f Frame) error {
	select {
	case cc.sendCh <- f:
		return nil
	case <-cc.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Server is the WebSocket gateway for the web chat.
type Server struct {
	chat       ChatService
	auth       Authenticator
	logger     *slog.Logger
	addr       string
	clients    sync.Map // connID (uint64) -> *clientConn
	nextID     atomic.Uint64
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	httpRoutes []httpRoute
	middleware []func(http.Handler) http.Handler

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

type httpRoute struct {
	pattern string
	handler http.Handler
}

// NewServer creates a gateway server with the chat RPC methods registered.
func NewServer(chat ChatService, auth Authenticator, addr string, logger *slog.Logger) *Server {
	s := &Server{
		chat:     chat,
		auth:     auth,
		logger:   logger,
		addr:     addr,
		handlers: make(map[string]RPCHandler),
	}
	s.RegisterHandler(MethodChatSend, s.handleChatSend)
	s.RegisterHandler(MethodChatEnd, s.handleChatEnd)
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler. Must be called before Handler or Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.Handler) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use wraps every route with mw. The first middleware added is outermost.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw)
}

// Handler returns the HTTP handler serving the WebSocket endpoint, the web
// chat page, and registered routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.Handle("/", webChatHandler())
	for _, route := range s.httpRoutes {
		mux.Handle(route.pattern, route.handler)
	}

	var h http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return h
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info, err := s.auth.Authenticate(q.Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	threadID := strings.TrimSpace(q.Get("thread_id"))
	if len(threadID) > maxThreadIDLen {
		http.Error(w, "thread_id too long", http.StatusBadRequest)
		return
	}
	if threadID == "" {
		threadID = domain.NewID()
	}
	info.SessionID = domain.NewID()
	info.ThreadID = threadID

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   info,
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		reqCh:  make(chan Frame, requestQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	defer s.clients.Delete(connID)

	logger := s.logger.With("conn_id", connID, "session_id", info.SessionID)
	logger.Info("gateway client connected", "client", info.Name, "thread_id", threadID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(cc)

	ready, _ := json.Marshal(SessionReady{SessionID: info.SessionID, ThreadID: threadID})
	_ = cc.push(ctx, Frame{Type: FrameTypeEvent, Method: EventSessionReady, Payload: ready})

	if err := s.chat.Start(ctx, info.SessionID, threadID, &connSink{cc: cc}); err != nil {
		logger.Error("chat session start failed", "error", err, "code", string(domain.ErrorCodeOf(err)))
		cc.close()
		ws.Close(websocket.StatusInternalError, "session start failed")
		return
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.worker(ctx, cc)
	}()

	s.readLoop(ctx, cc)

	cancel()
	cc.close()
	<-workerDone
	if !cc.ended.Load() {
		s.chat.Discard(context.Background(), info.SessionID)
	}
	ws.Close(websocket.StatusNormalClosure, "")
	logger.Info("gateway client disconnected")
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		select {
		case cc.reqCh <- frame:
		case <-cc.done:
			return
		default:
			s.sendResponse(cc, frame.ID, nil, errors.New("too many pending requests"))
		}
	}
}

// worker handles requests in arrival order so replies never interleave.
func (s *Server) worker(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case req := <-cc.reqCh:
			s.dispatchRPC(ctx, cc, req)
		}
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				cc.close()
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.ErrRPCMethodNotFound)
		return
	}

	result, err := handler(ctx, cc.info, req.Payload)
	if err == nil && req.Method == MethodChatEnd {
		cc.ended.Store(true)
	}
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id, Payload: result}
	if err != nil {
		resp.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := cc.push(ctx, resp); err != nil && !errors.Is(err, errConnClosed) {
		s.logger.Warn("gateway: dropped RPC response", "frame_id", id, "error", err)
	}
}

var okResult = json.RawMessage(`{"status":"ok"}`)

func (s *Server) handleChatSend(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
	var p ChatSendParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", domain.ErrRPCInvalidPayload)
	}
	if err := s.chat.HandleMessage(ctx, client.SessionID, p.Text); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (s *Server) handleChatEnd(ctx context.Context, client *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
	if err := s.chat.End(ctx, client.SessionID); err != nil {
		return nil, err
	}
	return okResult, nil
}

// connSink renders a session's replies as events on its connection.
type connSink struct {
	cc *clientConn
}

func (c *connSink) Send(ctx context.Context, msg domain.OutboundMessage) error {
	return c.emit(ctx, EventMessageCreated, msg)
}

func (c *connSink) Update(ctx context.Context, msg domain.OutboundMessage) error {
	return c.emit(ctx, EventMessageUpdated, msg)
}

func (c *connSink) emit(ctx context.Context, event string, msg domain.OutboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.cc.push(ctx, Frame{Type: FrameTypeEvent, Method: event, Payload: payload})
}

var _ domain.ReplySink = (*connSink)(nil)
