package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/pushload/internal/hub/hubtest"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnStartReceivesConnectedAndEcho(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{Token: "secret"})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL, AccessToken: "secret"})

	connected := make(chan struct{}, 1)
	conn.On("Connected", func(args []json.RawMessage) {
		connected <- struct{}{}
	})
	echoed := make(chan Envelope, 1)
	conn.On("PerformanceTest", func(args []json.RawMessage) {
		if len(args) != 1 {
			t.Errorf("expected 1 argument, got %d", len(args))
			return
		}
		var env Envelope
		if err := json.Unmarshal(args[0], &env); err != nil {
			t.Errorf("decode envelope: %v", err)
			return
		}
		echoed <- env
	})

	ctx := context.Background()
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer conn.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive Connected")
	}

	sent := Envelope{CreatedTime: time.Now().UTC(), Content: []byte("payload")}
	if err := conn.Send(ctx, "PerformanceTest", sent); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-echoed:
		if string(got.Content) != "payload" {
			t.Errorf("content = %q, want payload", got.Content)
		}
		if !got.CreatedTime.Equal(sent.CreatedTime) {
			t.Errorf("created time = %v, want %v", got.CreatedTime, sent.CreatedTime)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive echo")
	}

	m := conn.Metrics()
	if m.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1", m.MessagesSent)
	}
	if m.Starts != 1 {
		t.Errorf("Starts = %d, want 1", m.Starts)
	}
}

func TestConnRejectedToken(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{Token: "secret"})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL, AccessToken: "wrong"})
	err := conn.Start(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("expected status in error, got %v", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if conn.Metrics().Errors != 1 {
		t.Errorf("Errors = %d, want 1", conn.Metrics().Errors)
	}
}

func TestConnHandshakeRejected(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{RejectHandshake: "unsupported protocol"})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL})
	err := conn.Start(context.Background())
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if hsErr.Reason != "unsupported protocol" {
		t.Errorf("reason = %q", hsErr.Reason)
	}
}

func TestConnSendWithoutStart(t *testing.T) {
	conn := NewConn(Config{URL: "http://localhost:1"})
	if err := conn.Send(context.Background(), "PerformanceTest"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close without Start should be a no-op, got %v", err)
	}
}

func TestConnStartTwice(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL})
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer conn.Close()
	if err := conn.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestConnCloseFiresOnClosedOnceWithNil(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL})
	var calls atomic.Int32
	errs := make(chan error, 4)
	conn.OnClosed(func(err error) {
		calls.Add(1)
		errs <- err
	})
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn.Close()
	conn.Close()

	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("expected nil error on voluntary close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClosed not fired")
	}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("OnClosed fired %d times, want 1", calls.Load())
	}
	if conn.Metrics().ConnectionDuration != 0 {
		t.Error("expected connection duration reset after close")
	}
}

func TestConnServerDropAndRestart(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL})
	closed := make(chan error, 4)
	conn.OnClosed(func(err error) { closed <- err })

	ctx := context.Background()
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return server.Sessions() == 1 })
	server.DropAll()

	select {
	case err := <-closed:
		if err == nil {
			t.Fatal("expected an error for a dropped connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not fired after drop")
	}

	if err := conn.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, 2*time.Second, func() bool { return server.Sessions() == 2 })
	if conn.Metrics().Starts != 2 {
		t.Errorf("Starts = %d, want 2", conn.Metrics().Starts)
	}
}

func TestConnServerCloseMessage(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{})
	defer server.Close()

	conn := NewConn(Config{URL: server.URL})
	closed := make(chan error, 1)
	conn.OnClosed(func(err error) { closed <- err })
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return server.Sessions() == 1 })
	server.CloseAll("server shutting down")

	select {
	case err := <-closed:
		var ce *CloseError
		if !errors.As(err, &ce) || ce.Message != "server shutting down" {
			t.Fatalf("expected CloseError with reason, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed not fired")
	}
}

func TestConnReadTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.ReadMessage()
		ws.WriteMessage(websocket.TextMessage, []byte{'{', '}', RecordSeparator})
		time.Sleep(time.Second)
	}))
	defer server.Close()

	conn := NewConn(Config{URL: server.URL, ReadTimeout: 100 * time.Millisecond, KeepAliveInterval: time.Hour})
	closed := make(chan error, 1)
	conn.OnClosed(func(err error) { closed <- err })
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case err := <-closed:
		if err == nil {
			t.Fatal("expected read timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read timeout did not close the session")
	}
}

func TestConnContextCancelledDial(t *testing.T) {
	server := hubtest.NewServer(hubtest.Options{})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn := NewConn(Config{URL: server.URL})
	if err := conn.Start(ctx); err == nil {
		conn.Close()
		t.Fatal("expected error for cancelled context")
	}
}

func TestDialURL(t *testing.T) {
	tests := []struct {
		in      string
		token   string
		want    string
		wantErr bool
	}{
		{in: "http://hub.local/game", token: "abc", want: "ws://hub.local/game?access_token=abc"},
		{in: "https://hub.local/game?x=1", token: "t", want: "wss://hub.local/game?access_token=t&x=1"},
		{in: "ws://hub.local/", want: "ws://hub.local/"},
		{in: "ftp://hub.local/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dialURL(tt.in, tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("dialURL error = %v", err)
			}
			if got != tt.want {
				t.Errorf("dialURL = %q, want %q", got, tt.want)
			}
		})
	}
}
