package fakebackend

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// FunctionRequest is what a function handler sees of one invocation.
type FunctionRequest struct {
	Name  string
	Token string
	Body  map[string]any
}

// FunctionHandler answers one serverless function invocation with an HTTP
// status and a JSON body.
type FunctionHandler func(req FunctionRequest) (int, any)

// HandleFunction registers the handler for a function name.
func (s *Server) HandleFunction(name string, h FunctionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[name] = h
}

// StartFunctions serves POST /functions/v1/{name} on a random local port.
func (s *Server) StartFunctions() error {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	r.HandleFunc("/functions/v1/{name}", s.serveFunction).Methods(http.MethodPost)

	s.functionsLn = ln
	s.functionsServer = &http.Server{Handler: r}
	go func() {
		_ = s.functionsServer.Serve(ln)
	}()
	return nil
}

// FunctionsURL is the base URL to pass as the client's functions URL.
func (s *Server) FunctionsURL() string {
	if s.functionsLn == nil {
		return ""
	}
	return "http://" + s.functionsLn.Addr().String()
}

func (s *Server) serveFunction(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s.mu.RLock()
	h, ok := s.functions[name]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Function not found"})
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if s.RequireAuth && !s.ValidToken(token) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid JWT"})
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
			return
		}
	}

	status, resp := h(FunctionRequest{Name: name, Token: token, Body: body})
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
