// Package fakebackend provides a fake Kuppel backend for tests and for the
// CLI's mock-data mode.
//
// It speaks the client's RPC protocol over WebSocket with CBOR encoding,
// keeps tables in memory, evaluates filtered reads and writes, pushes live
// notifications to subscribers, answers remote procedures registered with
// HandleRPC, and serves serverless functions over HTTP.
//
// The WebSocket server is implemented using the `gws` library.
//
// To flexibly inject failures, you can configure stub responses
// that match specific RPC methods and parameters, along with failure
// configurations that specify how it fails (delays, invalid responses,
// dropped connections).
package fakebackend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kuppel/kuppel.go/internal/codec"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/lxzan/gws"
)

const (
	codeParseError     = -32700
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternal       = -32603
	codeBackend        = -32000
)

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureInvalidResponse sends random binary data instead of valid response
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureWebSocketClose sends WebSocket close frame with configurable code/reason
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureNoResponse swallows the request
	FailureNoResponse FailureType = "no_response"
)

// RequestMatcher defines criteria for matching incoming RPC requests.
type RequestMatcher struct {
	// Method is the RPC method name to match
	Method string
	// Matcher optionally narrows the match by request parameters.
	Matcher func(params []any) bool
}

// StubResponse is a canned answer for matching requests. Stubs win over
// the built-in table engine.
type StubResponse struct {
	Matcher  RequestMatcher
	Result   any
	Error    *connection.RPCError
	Failures []FailureConfig
}

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	CloseCode   uint16
	CloseReason string
}

// RPCHandler answers a remote procedure call.
type RPCHandler func(args map[string]any) (any, *connection.RPCError)

type session struct {
	userID string
	token  string
	lives  map[string]*subscription
}

// Server is a fake Kuppel backend.
type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	codec    *codec.CBOR

	mu             sync.RWMutex
	stubResponses  []StubResponse
	globalFailures []FailureConfig
	sessions       map[*gws.Conn]*session
	tables         map[string][]map[string]any
	users          map[string]*user
	tokens         map[string]string
	procedures     map[string]RPCHandler
	functions      map[string]FunctionHandler
	requests       []string

	// RequireAuth rejects data methods until the socket signed in or
	// authenticated.
	RequireAuth bool

	// Secret signs the session tokens issued by signin.
	Secret []byte

	functionsServer *http.Server
	functionsLn     net.Listener

	now func() time.Time
}

// Handler implements the gws.Handler interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a new fake backend.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:       addr,
		codec:      codec.NewCBOR(),
		sessions:   make(map[*gws.Conn]*session),
		tables:     make(map[string][]map[string]any),
		users:      make(map[string]*user),
		tokens:     make(map[string]string),
		procedures: make(map[string]RPCHandler),
		functions:  make(map[string]FunctionHandler),
		Secret:     []byte("fakebackend-secret"),
		now:        time.Now,
	}

	s.server = gws.NewServer(&Handler{server: s}, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakebackend: server error: %v", err)
		}
	}

	return s
}

// AddStubResponse adds a stub. Stubs are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// SetGlobalFailures sets failure configurations that apply to all requests.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// HandleRPC registers the handler for a remote procedure.
func (s *Server) HandleRPC(name string, h RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[name] = h
}

// Requests returns the methods received so far, in arrival order.
func (s *Server) Requests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.requests...)
}

// Start starts accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil {
			if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
				log.Printf("fakebackend: server error: %v", err)
			}
		}
	}()

	return nil
}

// Stop closes the listeners and every open socket.
func (s *Server) Stop() error {
	s.mu.Lock()
	for socket := range s.sessions {
		socket.NetConn().Close()
	}
	s.mu.Unlock()

	if s.functionsServer != nil {
		_ = s.functionsServer.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// endpoint to hand to kuppel.Connect.
func (s *Server) URL() string {
	return "ws://" + s.Address()
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{lives: make(map[string]*subscription)}
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakebackend: error writing pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.server.mu.RLock()
	globalFailures := h.server.globalFailures
	h.server.mu.RUnlock()

	for _, failure := range globalFailures {
		if shouldTriggerFailure(failure.Probability) {
			if stop := h.applyFailure(socket, failure); stop {
				return
			}
		}
	}

	var req connection.RPCRequest
	if err := h.server.codec.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, codeParseError, "Parse error")
		return
	}

	h.server.mu.Lock()
	h.server.requests = append(h.server.requests, req.Method)
	var matchedStub *StubResponse
	for i := range h.server.stubResponses {
		stub := h.server.stubResponses[i]
		if stub.Matcher.Method == req.Method && (stub.Matcher.Matcher == nil || stub.Matcher.Matcher(req.Params)) {
			matchedStub = &stub
			break
		}
	}
	h.server.mu.Unlock()

	if matchedStub != nil {
		for _, failure := range matchedStub.Failures {
			if shouldTriggerFailure(failure.Probability) {
				if stop := h.applyFailure(socket, failure); stop {
					return
				}
			}
		}
		if matchedStub.Error != nil {
			h.sendRPCError(socket, req.ID, matchedStub.Error)
		} else {
			h.sendResponse(socket, req.ID, matchedStub.Result)
		}
		return
	}

	switch req.Method {
	case "signin":
		h.handleSignIn(socket, &req)
		return
	case "authenticate":
		h.handleAuthenticate(socket, &req)
		return
	case "invalidate":
		h.handleInvalidate(socket, &req)
		return
	}

	if h.server.RequireAuth && !h.server.isAuthenticated(socket) {
		h.sendError(socket, req.ID, codeBackend, "JWT expired or missing: not authenticated")
		return
	}

	switch req.Method {
	case "select":
		h.handleSelect(socket, &req)
	case "insert":
		h.handleInsert(socket, &req)
	case "update":
		h.handleUpdate(socket, &req)
	case "rpc":
		h.handleRPC(socket, &req)
	case "live":
		h.handleLive(socket, &req)
	case "kill":
		h.handleKill(socket, &req)
	default:
		h.sendError(socket, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// applyFailure injects failure and reports whether request processing stops.
func (h *Handler) applyFailure(socket *gws.Conn, failure FailureConfig) bool {
	switch failure.Type {
	case FailureRequestDelay:
		time.Sleep(randomDuration(failure.MinDelay, failure.MaxDelay))
		return false

	case FailureInvalidResponse:
		data := make([]byte, 100)
		if _, err := rand.Read(data); err != nil {
			log.Printf("fakebackend: error generating invalid response: %v", err)
		}
		if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
			log.Printf("fakebackend: error writing invalid response: %v", err)
		}
		return true

	case FailureWebSocketClose:
		code := failure.CloseCode
		if code == 0 {
			code = 1001
		}
		reason := failure.CloseReason
		if reason == "" {
			reason = "failure injection"
		}
		socket.WriteClose(code, []byte(reason))
		return true

	case FailureDropConnection:
		socket.NetConn().Close()
		return true

	case FailureNoResponse:
		return true
	}

	return false
}

func (h *Handler) sendResponse(socket *gws.Conn, id, result any) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Result = &result

	data, err := h.server.codec.Marshal(resp)
	if err != nil {
		h.sendError(socket, id, codeInternal, fmt.Sprintf("sendResponse: %v", err))
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		log.Printf("fakebackend: error writing response: %v", err)
	}
}

func (h *Handler) sendError(socket *gws.Conn, id any, code int, message string) {
	h.sendRPCError(socket, id, &connection.RPCError{Code: code, Message: message})
}

func (h *Handler) sendRPCError(socket *gws.Conn, id any, rpcErr *connection.RPCError) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Error = rpcErr

	data, err := h.server.codec.Marshal(resp)
	if err != nil {
		log.Printf("fakebackend: failed to marshal error response: %v", err)
		return
	}

	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		log.Printf("fakebackend: error writing error response: %v", err)
	}
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64())/float64(1<<53) < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMin >= dMax {
		return dMin
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(dMax-dMin)))
	return dMin + time.Duration(n.Int64())
}

// MatchMethod creates a RequestMatcher that matches only by method name
func MatchMethod(method string) RequestMatcher {
	return RequestMatcher{Method: method}
}

// MatchMethodWithParams matches by method name and a predicate over the params.
func MatchMethodWithParams(method string, matcher func(params []any) bool) RequestMatcher {
	return RequestMatcher{Method: method, Matcher: matcher}
}

// SimpleStubResponse creates a basic stub response for a method without failure injection
func SimpleStubResponse(method string, response any) StubResponse {
	return StubResponse{Matcher: MatchMethod(method), Result: response}
}

// ErrorStubResponse creates a stub response that returns an RPC error
func ErrorStubResponse(method string, code int, message string) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Error:   &connection.RPCError{Code: code, Message: message},
	}
}

func isUseOfClosedNetworkError(err error) bool {
	return err != nil && strings.HasSuffix(err.Error(), "use of closed network connection")
}
