package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/models"
)

// ErrDuplicateSubscriber is returned when the email is already subscribed.
var ErrDuplicateSubscriber = errors.New("subscriber already exists")

// SubscriberRepository persists accepted subscribers. Create must be
// all-or-nothing for a single record.
type SubscriberRepository interface {
	Create(ctx context.Context, subscriber *models.Subscriber) error
}

type InMemorySubscriberRepository struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*models.Subscriber
	emails      map[string]uuid.UUID
	tracer      trace.Tracer
}

func NewInMemorySubscriberRepository() *InMemorySubscriberRepository {
	return &InMemorySubscriberRepository{
		subscribers: make(map[uuid.UUID]*models.Subscriber),
		emails:      make(map[string]uuid.UUID),
		tracer:      otel.Tracer("subscriber-repository"),
	}
}

func (r *InMemorySubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	_, span := r.tracer.Start(ctx, "subscriber.repository.create",
		trace.WithAttributes(
			attribute.String("subscriber.id", subscriber.ID.String()),
			attribute.String("subscriber.email", subscriber.Email),
			attribute.String("operation", "database.write"),
			attribute.String("store.type", "memory"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subscribers[subscriber.ID]; exists {
		err := fmt.Errorf("%w: id %s", ErrDuplicateSubscriber, subscriber.ID)
		span.RecordError(err)
		return err
	}
	if _, exists := r.emails[subscriber.Email]; exists {
		err := fmt.Errorf("%w: email %s", ErrDuplicateSubscriber, subscriber.Email)
		span.RecordError(err)
		return err
	}

	stored := *subscriber
	r.subscribers[subscriber.ID] = &stored
	r.emails[subscriber.Email] = subscriber.ID
	span.SetAttributes(attribute.Bool("success", true))
	return nil
}

func (r *InMemorySubscriberRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscribers)
}

// All returns copies of every stored subscriber in no particular order.
func (r *InMemorySubscriberRepository) All() []models.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers := make([]models.Subscriber, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		subscribers = append(subscribers, *subscriber)
	}
	return subscribers
}
