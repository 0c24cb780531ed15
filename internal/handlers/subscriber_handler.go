package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/logging"
	"subscriber-api/internal/models"
	"subscriber-api/internal/service"
)

type SubscriberHandler struct {
	service      *service.SubscriptionService
	logger       *logging.ContextLogger
	maxBodyBytes int64
}

func NewSubscriberHandler(service *service.SubscriptionService, logger *logging.ContextLogger, maxBodyBytes int64) *SubscriberHandler {
	return &SubscriberHandler{
		service:      service,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Subscribe handles POST /subscriptions. It answers with an empty body in
// every case; only the status code carries the outcome.
func (h *SubscriberHandler) Subscribe(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnWithTracing(ctx, "Request body too large", err, logrus.Fields{
				"endpoint": "POST /subscriptions",
				"limit":    h.maxBodyBytes,
			})
			span.SetAttributes(attribute.String("error.type", "payload_too_large"))
			c.Status(http.StatusBadRequest)
			return
		}
		// Any other read failure, usually a dropped connection or a bad chunked body.
		h.logger.WarnWithTracing(ctx, "Failed to read request body", err, logrus.Fields{
			"endpoint": "POST /subscriptions",
		})
		c.Status(http.StatusBadRequest)
		return
	}

	outcome := h.service.Subscribe(ctx, c.GetHeader("Content-Type"), body)

	switch outcome.Kind {
	case service.OutcomePersisted:
		span.SetAttributes(attribute.String("subscriber.id", outcome.Subscriber.ID.String()))
		c.Status(http.StatusOK)
	case service.OutcomeRejected:
		span.SetAttributes(attribute.String("error.type", rejectionType(outcome.Err)))
		c.Status(http.StatusBadRequest)
	case service.OutcomeStoreFailed:
		span.SetAttributes(attribute.String("error.type", "store_error"))
		c.Status(http.StatusInternalServerError)
	default:
		h.logger.ErrorWithTracing(ctx, "Unhandled subscription outcome", outcome.Err, logrus.Fields{
			"outcome": outcome.Kind.String(),
		})
		c.Status(http.StatusInternalServerError)
	}
}

func rejectionType(err error) string {
	var decodeErr *models.DecodeError
	if errors.As(err, &decodeErr) {
		return "decode_error"
	}
	return "validation_error"
}
