package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"docsync/pkg/domain"
)

const (
	exchangeName = "docsync.events"

	RoutingKeyDocumentCompleted = "document.completed"
	RoutingKeyDocumentFailed    = "document.failed"
	RoutingKeySyncCompleted     = "sync.completed"
)

// Publisher emits pipeline lifecycle events. Publishing is best-effort:
// a broker problem is logged and never fails the pipeline.
type Publisher interface {
	DocumentCompleted(ctx context.Context, doc domain.Document)
	DocumentFailed(ctx context.Context, doc domain.Document, reason string)
	SyncCompleted(ctx context.Context, report domain.SyncReport)
	Close() error
}

// NopPublisher drops all events. Used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) DocumentCompleted(context.Context, domain.Document) {}

func (NopPublisher) DocumentFailed(context.Context, domain.Document, string) {}

func (NopPublisher) SyncCompleted(context.Context, domain.SyncReport) {}

func (NopPublisher) Close() error { return nil }

type documentEvent struct {
	DocumentID   int64     `json:"documentId"`
	UserID       string    `json:"userId"`
	RemoteFileID string    `json:"remoteFileId"`
	FileName     string    `json:"fileName"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type syncEvent struct {
	UserID     string    `json:"userId"`
	Discovered int       `json:"discovered"`
	Downloaded int       `json:"downloaded"`
	Upserted   int       `json:"upserted"`
	Errors     int       `json:"errors"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) DocumentCompleted(ctx context.Context, doc domain.Document) {
	p.publish(ctx, RoutingKeyDocumentCompleted, documentEvent{
		DocumentID:   doc.ID,
		UserID:       doc.UserID,
		RemoteFileID: doc.RemoteFileID,
		FileName:     doc.FileName,
		Status:       string(doc.Status),
		OccurredAt:   time.Now().UTC(),
	})
}

func (p *AMQPPublisher) DocumentFailed(ctx context.Context, doc domain.Document, reason string) {
	p.publish(ctx, RoutingKeyDocumentFailed, documentEvent{
		DocumentID:   doc.ID,
		UserID:       doc.UserID,
		RemoteFileID: doc.RemoteFileID,
		FileName:     doc.FileName,
		Status:       string(doc.Status),
		Reason:       reason,
		OccurredAt:   time.Now().UTC(),
	})
}

func (p *AMQPPublisher) SyncCompleted(ctx context.Context, report domain.SyncReport) {
	p.publish(ctx, RoutingKeySyncCompleted, syncEvent{
		UserID:     report.UserID,
		Discovered: report.Discovered,
		Downloaded: report.Downloaded,
		Upserted:   report.Upserted,
		Errors:     len(report.Errors),
		OccurredAt: time.Now().UTC(),
	})
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("event_encode_failed", "routing_key", routingKey, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		slog.Warn("event_publish_failed", "routing_key", routingKey, "error", err)
	}
}
