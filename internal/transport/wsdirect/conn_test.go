package wsdirect_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/transport/wsdirect"
)

func TestRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	srv := wsdirect.NewServer(logger)

	serverReceived := make(chan []byte, 1)
	ts := httptest.NewServer(srv.Handler(func(conn *wsdirect.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Run(ctx, func(b []byte) {
			serverReceived <- b
			_ = conn.SendStream([]byte("ack"))
		})
	}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := wsdirect.Dial(ctx, url, logger)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	clientReceived := make(chan []byte, 1)
	go func() {
		_ = client.Run(ctx, func(b []byte) { clientReceived <- b })
	}()

	if err := client.SendStream([]byte("hello")); err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	select {
	case b := <-serverReceived:
		if string(b) != "hello" {
			t.Fatalf("server got %q, want hello", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server to receive")
	}

	select {
	case b := <-clientReceived:
		if string(b) != "ack" {
			t.Fatalf("client got %q, want ack", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for client ack")
	}
}
