package feedback

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestPublisherRoundTrip(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan Event, 1)
	sub, err := Subscribe(nc, "", func(_ context.Context, e Event) { ch <- e })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	pub := NewPublisher(nc, "")
	sent := Event{ID: 7, Kind: KindError, Code: CodeShortCircuit, Message: "SHORT CIRCUIT DETECTED! Power supply overload!"}
	if err := pub.Emit(context.Background(), sent); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.ID != 7 || got.Code != CodeShortCircuit || got.Message != sent.Message {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublisherClosedConn(t *testing.T) {
	nc := startTestNATS(t)
	nc.Close()

	err := NewPublisher(nc, "lab.test").Emit(context.Background(), Event{Code: CodeLooseWire})
	if err == nil {
		t.Fatal("expected error on closed connection")
	}
}
