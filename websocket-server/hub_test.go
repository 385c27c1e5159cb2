package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000", " https://bench.example.com "})
	cases := map[string]bool{
		"":                          true,
		"http://localhost:3000":     true,
		"https://bench.example.com": true,
		"http://evil.example.com":   false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := check(r); got != want {
			t.Fatalf("origin %q: got %v, want %v", origin, got, want)
		}
	}
}

func TestHubBroadcastAndReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := newHub(zerolog.Nop())
	go hub.run(ctx)

	upgrader := &websocket.Upgrader{CheckOrigin: originChecker(nil)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, upgrader, w, r)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	waitClients(t, hub, 1)

	report := []byte(`{"run_id":"abc","ranking":{"entries":[]}}`)
	hub.broadcast <- report

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := first.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(report) {
		t.Fatalf("got %s", got)
	}

	// late joiner gets the last report
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err = second.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(report) {
		t.Fatalf("replay got %s", got)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := newHub(zerolog.Nop())
	go hub.run(ctx)

	upgrader := &websocket.Upgrader{CheckOrigin: originChecker(nil)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, upgrader, w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}

func TestHubStoppedDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := newHub(zerolog.Nop())
	stopped := make(chan struct{})
	go func() {
		hub.run(ctx)
		close(stopped)
	}()

	upgrader := &websocket.Upgrader{CheckOrigin: originChecker(nil)}
	served := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, upgrader, w, r)
		served <- struct{}{}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitClients(t, hub, 1)
	<-served

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// readPump of the existing client unregisters after the hub is gone.
	conn.Close()

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		defer late.Close()
	}
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("serveWs blocked on register after the hub stopped")
	}

	if hub.join(&Client{send: make(chan []byte)}) {
		t.Fatal("join succeeded on a stopped hub")
	}
	done := make(chan struct{})
	go func() {
		hub.leave(&Client{send: make(chan []byte)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister blocked after the hub stopped")
	}
}

func TestReadyzWithoutKafka(t *testing.T) {
	w := httptest.NewRecorder()
	readyzHandler(nil, newHub(zerolog.Nop()))(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.clientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
