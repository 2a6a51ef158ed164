package natsutil

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

type reading struct {
	Component string `json:"component"`
	Lit       bool   `json:"lit"`
}

func TestPublishSubscribe(t *testing.T) {
	nc := startNATS(t)
	got := make(chan reading, 1)
	sub, err := Subscribe(nc, "lab.test", func(_ context.Context, p reading) { got <- p })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	// Malformed payloads are dropped before the handler runs.
	if err := nc.Publish("lab.test", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "lab.test", reading{Component: "led-1", Lit: true}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-got:
		if p.Component != "led-1" || !p.Lit {
			t.Fatalf("got %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishEncodeError(t *testing.T) {
	nc := startNATS(t)
	if err := Publish(context.Background(), nc, "lab.test", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestRequestHandle(t *testing.T) {
	nc := startNATS(t)
	sub, err := Handle(nc, "lab.double", func(_ context.Context, n int) (int, error) {
		if n < 0 {
			return 0, errors.New("negative input")
		}
		return n * 2, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := Request[int, int](ctx, nc, "lab.double", 21)
	if err != nil || v != 42 {
		t.Fatalf("v=%d err=%v", v, err)
	}

	_, err = Request[int, int](ctx, nc, "lab.double", -1)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "negative input" {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestHandleRejectsMalformedRequest(t *testing.T) {
	nc := startNATS(t)
	sub, err := Handle(nc, "lab.strict", func(_ context.Context, p reading) (reading, error) { return p, nil })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var remote *RemoteError
	if _, err := Request[string, reading](ctx, nc, "lab.strict", "just a string"); !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestRequestNoResponders(t *testing.T) {
	nc := startNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := Request[int, int](ctx, nc, "lab.nobody", 1); err == nil {
		t.Fatal("expected error with no responders")
	}
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	if c.Get("traceparent") != "" || len(c.Keys()) != 0 {
		t.Fatal("empty carrier should be empty")
	}
	c.Set("traceparent", "00-abc-def-01")
	if c.Get("traceparent") != "00-abc-def-01" || len(c.Keys()) != 1 {
		t.Fatal("carrier did not store header")
	}
}
