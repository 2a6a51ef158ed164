package feedback

import (
	"context"
	"fmt"

	"github.com/WessleyAI/picolab/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject events are broadcast on.
const DefaultSubject = "lab.feedback"

// Publisher forwards events to NATS subscribers such as teacher dashboards.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a Publisher. An empty subject selects DefaultSubject.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

// Emit publishes e with the trace context of ctx.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if err := natsutil.Publish(ctx, p.nc, p.subject, e); err != nil {
		return fmt.Errorf("feedback: publish %s: %w", e.Code, err)
	}
	return nil
}

// Subscribe delivers events published on subject to handler.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, Event)) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	return natsutil.Subscribe(nc, subject, handler)
}
