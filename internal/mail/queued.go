package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/fracture-records/internal/queue"
)

// Publisher is the part of queue.Publisher QueueMailer needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// QueueMailer hands messages to the mail worker through RabbitMQ. Send
// returns once the broker accepted the message.
type QueueMailer struct {
	pub Publisher
}

func NewQueueMailer(pub Publisher) *QueueMailer {
	return &QueueMailer{pub: pub}
}

func (q *QueueMailer) Send(ctx context.Context, m Message) error {
	return q.pub.Publish(ctx, queue.MailQueue, queue.MailRequested{
		ID:          uuid.NewString(),
		Kind:        m.Kind,
		To:          m.To,
		Subject:     m.Subject,
		Body:        m.Body,
		RequestedAt: time.Now().UTC(),
	})
}

// DeliveryHandler is the worker side: it decodes queued requests and
// delivers them with next.
func DeliveryHandler(next Mailer) queue.Handler {
	return func(ctx context.Context, body []byte) error {
		var req queue.MailRequested
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return next.Send(ctx, Message{Kind: req.Kind, To: req.To, Subject: req.Subject, Body: req.Body})
	}
}
