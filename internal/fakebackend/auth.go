package fakebackend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/lxzan/gws"
)

// User is an account that can sign in. Claims are copied into the issued
// token next to sub and email.
type User struct {
	ID       string
	Email    string
	Password string
	Claims   map[string]any
}

type user struct {
	User
}

// AddUser registers an account for signin.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Email] = &user{User: u}
}

// IssueToken signs a session token for the registered email.
func (s *Server) IssueToken(email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return "", fmt.Errorf("fakebackend: unknown user %s", email)
	}
	return s.issueLocked(u)
}

func (s *Server) issueLocked(u *user) (string, error) {
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"iat":   s.now().Unix(),
		"exp":   s.now().Add(time.Hour).Unix(),
	}
	for k, v := range u.Claims {
		claims[k] = v
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	s.tokens[token] = u.ID
	return token, nil
}

// ValidToken reports whether token was issued by this server and verifies.
func (s *Server) ValidToken(token string) bool {
	s.mu.RLock()
	_, known := s.tokens[token]
	secret := s.Secret
	s.mu.RUnlock()
	if !known {
		return false
	}
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	return err == nil
}

func (s *Server) isAuthenticated(socket *gws.Conn) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[socket]
	return ok && sess.token != ""
}

func (h *Handler) handleSignIn(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) != 1 {
		h.sendError(socket, req.ID, codeInvalidParams, "signin expects one credentials object")
		return
	}
	creds, ok := req.Params[0].(map[string]any)
	if !ok {
		h.sendError(socket, req.ID, codeInvalidParams, "signin: credentials must be an object")
		return
	}
	email, _ := creds["email"].(string)
	password, _ := creds["password"].(string)

	h.server.mu.Lock()
	u, ok := h.server.users[email]
	if !ok || u.Password != password {
		h.server.mu.Unlock()
		h.sendRPCError(socket, req.ID, &connection.RPCError{Code: 400, Message: "Invalid login credentials"})
		return
	}
	token, err := h.server.issueLocked(u)
	if err == nil {
		if sess, ok := h.server.sessions[socket]; ok {
			sess.userID = u.ID
			sess.token = token
		}
	}
	h.server.mu.Unlock()

	if err != nil {
		h.sendError(socket, req.ID, codeInternal, err.Error())
		return
	}
	h.sendResponse(socket, req.ID, token)
}

func (h *Handler) handleAuthenticate(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) != 1 {
		h.sendError(socket, req.ID, codeInvalidParams, "authenticate expects a token")
		return
	}
	token, _ := req.Params[0].(string)
	if !h.server.ValidToken(token) {
		h.sendRPCError(socket, req.ID, &connection.RPCError{Code: 401, Message: "Invalid JWT"})
		return
	}

	h.server.mu.Lock()
	if sess, ok := h.server.sessions[socket]; ok {
		sess.userID = h.server.tokens[token]
		sess.token = token
	}
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}

func (h *Handler) handleInvalidate(socket *gws.Conn, req *connection.RPCRequest) {
	h.server.mu.Lock()
	if sess, ok := h.server.sessions[socket]; ok {
		delete(h.server.tokens, sess.token)
		sess.userID = ""
		sess.token = ""
	}
	h.server.mu.Unlock()

	h.sendResponse(socket, req.ID, nil)
}
