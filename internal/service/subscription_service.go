package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/logging"
	"subscriber-api/internal/metrics"
	"subscriber-api/internal/models"
	"subscriber-api/internal/repository"
)

type OutcomeKind int

const (
	OutcomePersisted OutcomeKind = iota
	OutcomeRejected
	OutcomeStoreFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePersisted:
		return "persisted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeStoreFailed:
		return "store_failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one registration attempt. Subscriber is set
// only when Kind is OutcomePersisted; Err is set otherwise and is a
// *models.DecodeError, *models.ValidationError or *models.StoreError.
type Outcome struct {
	Kind       OutcomeKind
	Subscriber *models.Subscriber
	Err        error
}

// DefaultStoreTimeout bounds an insert when no timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

type SubscriptionService struct {
	repo         repository.SubscriberRepository
	logger       *logging.ContextLogger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	storeTimeout time.Duration
}

func NewSubscriptionService(repo repository.SubscriberRepository, logger *logging.ContextLogger, m *metrics.Metrics, storeTimeout time.Duration) *SubscriptionService {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &SubscriptionService{
		repo:         repo,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer("subscription-service"),
		storeTimeout: storeTimeout,
	}
}

// Subscribe decodes and validates a form body and, if it is acceptable,
// inserts exactly one subscriber. Rejected input never reaches the store.
func (s *SubscriptionService) Subscribe(ctx context.Context, contentType string, body []byte) Outcome {
	ctx, span := s.tracer.Start(ctx, "subscription.service.subscribe")
	defer span.End()

	outcome := s.subscribe(ctx, contentType, body)

	s.metrics.ObserveSubscription(outcome.Kind.String())
	span.SetAttributes(attribute.String("subscription.outcome", outcome.Kind.String()))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Kind.String())
	}

	return outcome
}

func (s *SubscriptionService) subscribe(ctx context.Context, contentType string, body []byte) Outcome {
	fields, err := s.decode(ctx, contentType, body)
	if err != nil {
		s.logger.WarnWithTracing(ctx, "Rejected subscription: malformed payload", err, logrus.Fields{
			"content_type": contentType,
			"body_bytes":   len(body),
		})
		return Outcome{Kind: OutcomeRejected, Err: err}
	}

	candidate, err := s.validate(ctx, fields)
	if err != nil {
		s.logger.WarnWithTracing(ctx, "Rejected subscription: missing fields", err, nil)
		return Outcome{Kind: OutcomeRejected, Err: err}
	}

	subscriber := models.NewSubscriber(candidate)

	s.logger.InfoWithTracing(ctx, "Saving new subscriber", logrus.Fields{
		"subscriber_id": subscriber.ID.String(),
		"email":         subscriber.Email,
		"name":          subscriber.Name,
	})

	// The insert outlives a disconnected client but not the store timeout.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.repo.Create(writeCtx, subscriber); err != nil {
		storeErr := &models.StoreError{Err: err}
		s.logger.ErrorWithTracing(ctx, "Failed to save subscriber", storeErr, logrus.Fields{
			"subscriber_id": subscriber.ID.String(),
			"timeout":       s.storeTimeout.String(),
		})
		return Outcome{Kind: OutcomeStoreFailed, Err: storeErr}
	}

	s.logger.InfoWithTracing(ctx, "Successfully saved subscriber", logrus.Fields{
		"subscriber_id": subscriber.ID.String(),
	})

	return Outcome{Kind: OutcomePersisted, Subscriber: subscriber}
}

func (s *SubscriptionService) decode(ctx context.Context, contentType string, body []byte) (map[string]string, error) {
	_, span := s.tracer.Start(ctx, "subscription.decode",
		trace.WithAttributes(
			attribute.String("http.request.content_type", contentType),
			attribute.Int("http.request.body_size", len(body)),
		))
	defer span.End()

	fields, err := DecodeForm(contentType, body)
	if err != nil {
		span.RecordError(err)
	}
	return fields, err
}

func (s *SubscriptionService) validate(ctx context.Context, fields map[string]string) (*models.SubscriberCandidate, error) {
	_, span := s.tracer.Start(ctx, "subscription.validate")
	defer span.End()

	candidate, err := ParseSubscriberCandidate(fields)
	if err != nil {
		span.RecordError(err)
	}
	return candidate, err
}
