package repository

import (
	"context"
	"encoding/json"
	"fmt"

	dapr "github.com/dapr/go-sdk/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/models"
)

// DaprSubscriberRepository stores each subscriber as one JSON document
// keyed by its ID in a Dapr state store.
type DaprSubscriberRepository struct {
	client    dapr.Client
	tracer    trace.Tracer
	storeName string
}

func NewDaprSubscriberRepository(client dapr.Client, storeName string) *DaprSubscriberRepository {
	return &DaprSubscriberRepository{
		client:    client,
		tracer:    otel.Tracer("dapr.repository"),
		storeName: storeName,
	}
}

func (r *DaprSubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	ctx, span := r.tracer.Start(ctx, "subscriber.repository.create",
		trace.WithAttributes(
			attribute.String("subscriber.id", subscriber.ID.String()),
			attribute.String("subscriber.email", subscriber.Email),
			attribute.String("operation", "database.write"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	data, err := json.Marshal(subscriber)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal subscriber: %w", err)
	}

	// First-write concurrency keeps an existing key from being overwritten.
	err = r.client.SaveState(ctx, r.storeName, subscriber.ID.String(), data, nil,
		dapr.WithConcurrency(dapr.StateConcurrencyFirstWrite),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save subscriber to dapr state store: %w", err)
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}
