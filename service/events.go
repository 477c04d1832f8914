package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/realtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Event is a domain event raised by the document API or the escalation engine.
type Event struct {
	Type        models.EventType       `json:"type"`
	DocumentID  string                 `json:"document_id"`
	Title       string                 `json:"title,omitempty"`
	ActorID     string                 `json:"actor_id,omitempty"`
	Status      models.DocumentStatus  `json:"status,omitempty"`
	SubmitterID string                 `json:"submitter_id,omitempty"`
	Audience    []string               `json:"audience,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	At          time.Time              `json:"at"`
}

// EventHandler consumes events. Errors are logged by the bus.
type EventHandler func(ctx context.Context, event Event) error

type namedHandler struct {
	name    string
	handler EventHandler
}

// EventBus delivers events synchronously to its subscribers in
// subscription order. A nil bus drops everything.
type EventBus struct {
	mu       sync.RWMutex
	handlers []namedHandler
	log      *zap.Logger
}

func NewEventBus(log *zap.Logger) *EventBus {
	return &EventBus{log: log}
}

// Subscribe registers handler under name.
func (b *EventBus) Subscribe(name string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, namedHandler{name: name, handler: handler})
}

// Publish hands event to every subscriber.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	handlers := append([]namedHandler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.handler(ctx, event); err != nil {
			b.log.Warn("event subscriber failed",
				zap.String("subscriber", h.name),
				zap.String("event", string(event.Type)),
				zap.String("document_id", event.DocumentID),
				zap.Error(err))
		}
	}
}

// AuditLog appends every event to the document_events table.
func AuditLog(store EventStore) EventHandler {
	return func(ctx context.Context, event Event) error {
		var payload datatypes.JSON
		if len(event.Payload) > 0 {
			bytes, err := json.Marshal(event.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode event payload: %w", err)
			}
			payload = datatypes.JSON(bytes)
		}
		return store.Append(ctx, &models.DocumentEvent{
			DocumentID: event.DocumentID,
			Type:       event.Type,
			ActorID:    event.ActorID,
			Status:     event.Status,
			Payload:    payload,
			CreatedAt:  event.At,
		})
	}
}

// RedisForwarder republishes events on a Redis channel for other instances.
type RedisForwarder struct {
	rdb     *redis.Client
	channel string
}

func NewRedisForwarder(rdb *redis.Client, channel string) *RedisForwarder {
	return &RedisForwarder{rdb: rdb, channel: channel}
}

// Handle is an EventHandler.
func (f *RedisForwarder) Handle(ctx context.Context, event Event) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.channel, bytes).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", f.channel, err)
	}
	return nil
}

// StreamEvents pushes events to the submitter's and audience's open SSE streams.
func StreamEvents(hub *realtime.Hub) EventHandler {
	return func(ctx context.Context, event Event) error {
		bytes, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		out := realtime.Event{EventType: string(event.Type), Data: string(bytes)}

		seen := make(map[string]bool)
		for _, id := range append([]string{event.SubmitterID}, event.Audience...) {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			hub.SendToUser(id, out)
		}
		return nil
	}
}

// documentEvent fills the common fields of an event about doc.
func documentEvent(t models.EventType, doc *models.Document, actorID string, payload map[string]interface{}) Event {
	audience := make([]string, 0, len(doc.RecipientIDs))
	for _, id := range doc.RecipientIDs {
		if id != "" {
			audience = append(audience, id)
		}
	}
	return Event{
		Type:        t,
		DocumentID:  doc.ID,
		Title:       doc.Title,
		ActorID:     actorID,
		Status:      doc.Status,
		SubmitterID: doc.SubmitterID,
		Audience:    audience,
		Payload:     payload,
	}
}
