package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/models"
)

const uniqueViolation = "23505"

const insertSubscriberSQL = `INSERT INTO subscriptions (id, email, name, subscribed_at)
	VALUES ($1, $2, $3, $4)`

// Executor is the subset of *pgxpool.Pool the repository needs. The pool
// acquires a connection per Exec and releases it when the call returns.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresSubscriberRepository struct {
	db     Executor
	tracer trace.Tracer
}

func NewPostgresSubscriberRepository(db Executor) *PostgresSubscriberRepository {
	return &PostgresSubscriberRepository{
		db:     db,
		tracer: otel.Tracer("postgres.repository"),
	}
}

func (r *PostgresSubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	ctx, span := r.tracer.Start(ctx, "subscriber.repository.create",
		trace.WithAttributes(
			attribute.String("subscriber.id", subscriber.ID.String()),
			attribute.String("subscriber.email", subscriber.Email),
			attribute.String("operation", "database.write"),
			attribute.String("db.system", "postgresql"),
		))
	defer span.End()

	tag, err := r.db.Exec(ctx, insertSubscriberSQL,
		subscriber.ID, subscriber.Email, subscriber.Name, subscriber.SubscribedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = fmt.Errorf("%w: %s", ErrDuplicateSubscriber, pgErr.ConstraintName)
		} else {
			err = fmt.Errorf("failed to insert subscriber: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	if tag.RowsAffected() != 1 {
		err := fmt.Errorf("insert subscriber: expected 1 row, got %d", tag.RowsAffected())
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}
