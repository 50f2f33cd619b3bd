package fakebackend

import (
	"log"

	"github.com/google/uuid"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/lxzan/gws"
)

type subscription struct {
	id      string
	table   string
	actions map[connection.Action]bool
}

// LiveCount returns how many live queries are open across all sockets.
func (s *Server) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		n += len(sess.lives)
	}
	return n
}

// Push broadcasts a change as if a row of table had been written by
// another client. before is only sent for updates.
func (s *Server) Push(table string, action connection.Action, row, before map[string]any) {
	s.notify(table, action, row, before)
}

func (s *Server) notify(table string, action connection.Action, row, before map[string]any) {
	type target struct {
		socket *gws.Conn
		id     string
	}
	var targets []target

	s.mu.RLock()
	for socket, sess := range s.sessions {
		for _, sub := range sess.lives {
			if sub.table == table && sub.actions[action] {
				targets = append(targets, target{socket: socket, id: sub.id})
			}
		}
	}
	s.mu.RUnlock()

	for _, t := range targets {
		result := map[string]any{
			"id":     t.id,
			"action": string(action),
			"table":  table,
			"result": row,
		}
		if before != nil {
			result["before"] = before
		}

		var resp connection.RPCResponse[any]
		var r any = result
		resp.Result = &r

		data, err := s.codec.Marshal(resp)
		if err != nil {
			log.Printf("fakebackend: failed to marshal notification: %v", err)
			continue
		}
		if err := t.socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
			log.Printf("fakebackend: error writing notification: %v", err)
		}
	}
}

func (h *Handler) handleLive(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, codeInvalidParams, "live expects [table, actions]")
		return
	}
	table, ok := req.Params[0].(string)
	if !ok || table == "" {
		h.sendError(socket, req.ID, codeInvalidParams, "live: table must be a string")
		return
	}

	sub := &subscription{
		id:      uuid.NewString(),
		table:   table,
		actions: make(map[connection.Action]bool),
	}
	if len(req.Params) > 1 {
		list, _ := req.Params[1].([]any)
		for _, a := range list {
			if name, ok := a.(string); ok {
				sub.actions[connection.Action(name)] = true
			}
		}
	}
	if len(sub.actions) == 0 {
		sub.actions[connection.InsertAction] = true
		sub.actions[connection.UpdateAction] = true
		sub.actions[connection.DeleteAction] = true
	}

	h.server.mu.Lock()
	sess, ok := h.server.sessions[socket]
	if ok {
		sess.lives[sub.id] = sub
	}
	h.server.mu.Unlock()

	if !ok {
		h.sendError(socket, req.ID, codeInternal, "unknown socket")
		return
	}
	h.sendResponse(socket, req.ID, sub.id)
}

func (h *Handler) handleKill(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) != 1 {
		h.sendError(socket, req.ID, codeInvalidParams, "kill expects a live query id")
		return
	}
	id, _ := req.Params[0].(string)

	h.server.mu.Lock()
	sess, ok := h.server.sessions[socket]
	found := false
	if ok {
		_, found = sess.lives[id]
		delete(sess.lives, id)
	}
	h.server.mu.Unlock()

	if !found {
		h.sendError(socket, req.ID, codeBackend, "Can not execute KILL statement using id '"+id+"'")
		return
	}
	h.sendResponse(socket, req.ID, nil)
}

func (h *Handler) handleRPC(socket *gws.Conn, req *connection.RPCRequest) {
	if len(req.Params) < 1 {
		h.sendError(socket, req.ID, codeInvalidParams, "rpc expects [procedure, args]")
		return
	}
	name, _ := req.Params[0].(string)
	args := map[string]any{}
	if len(req.Params) > 1 && req.Params[1] != nil {
		m, ok := req.Params[1].(map[string]any)
		if !ok {
			h.sendError(socket, req.ID, codeInvalidParams, "rpc: args must be an object")
			return
		}
		args = m
	}

	h.server.mu.RLock()
	handler, ok := h.server.procedures[name]
	h.server.mu.RUnlock()
	if !ok {
		h.sendRPCError(socket, req.ID, &connection.RPCError{
			Code:    404,
			Message: "Could not find the function " + name,
			Hint:    "Perhaps you meant to call a different function",
		})
		return
	}

	result, rpcErr := handler(args)
	if rpcErr != nil {
		h.sendRPCError(socket, req.ID, rpcErr)
		return
	}
	h.sendResponse(socket, req.ID, result)
}
