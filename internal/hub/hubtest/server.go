// Package hubtest provides an in-process hub server for tests. It speaks the
// JSON hub handshake, announces "Connected" on every session and echoes each
// invocation back to its caller.
package hubtest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const recordSeparator = 0x1e

// Options customise the test server.
type Options struct {
	// Token, when set, must match the access_token query parameter.
	Token string
	// RejectHandshake makes the server answer the handshake with this error.
	RejectHandshake string
	// NoEcho disables echoing of invocations.
	NoEcho bool
}

// Server is a running test hub.
type Server struct {
	*httptest.Server
	opts Options

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	sessions    atomic.Int64
	invocations atomic.Int64
}

// NewServer starts a test hub.
func NewServer(opts Options) *Server {
	s := &Server{opts: opts, conns: make(map[*websocket.Conn]struct{})}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Token != "" && r.URL.Query().Get("access_token") != opts.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		s.serve(conn)
	}))
	return s
}

// Sessions reports how many handshakes completed.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

// Invocations reports how many invocations were received.
func (s *Server) Invocations() int64 { return s.invocations.Load() }

// DropAll closes every live connection without a close message.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// CloseAll sends a close message with reason to every live connection.
func (s *Server) CloseAll(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := []byte(`{"type":7}`)
	if reason != "" {
		msg = []byte(`{"type":7,"error":"` + reason + `"}`)
	}
	for c := range s.conns {
		c.WriteMessage(websocket.TextMessage, append(msg, recordSeparator))
	}
}

func (s *Server) serve(conn *websocket.Conn) {
	if _, _, err := conn.ReadMessage(); err != nil {
		return
	}
	if s.opts.RejectHandshake != "" {
		conn.WriteMessage(websocket.TextMessage, append([]byte(`{"error":"`+s.opts.RejectHandshake+`"}`), recordSeparator))
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	// Handshake reply and the greeting share one frame, like real hubs often do.
	frame := append([]byte(`{}`), recordSeparator)
	frame = append(frame, []byte(`{"type":1,"target":"Connected","arguments":[]}`)...)
	frame = append(frame, recordSeparator)
	err := conn.WriteMessage(websocket.TextMessage, frame)
	s.mu.Unlock()
	if err != nil {
		return
	}
	s.sessions.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, rec := range bytes.Split(data, []byte{recordSeparator}) {
			if len(rec) == 0 || !bytes.Contains(rec, []byte(`"type":1`)) {
				continue
			}
			s.invocations.Add(1)
			if s.opts.NoEcho {
				continue
			}
			s.mu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, append(rec, recordSeparator))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
