package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriberCandidate is a decoded submission whose required fields are
// both present and non-empty.
type SubscriberCandidate struct {
	Name  string
	Email string
}

type Subscriber struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// NewSubscriberCandidate fails with a ValidationError naming every empty field.
func NewSubscriberCandidate(name, email string) (*SubscriberCandidate, error) {
	var missing []string
	if name == "" {
		missing = append(missing, FieldName)
	}
	if email == "" {
		missing = append(missing, FieldEmail)
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}
	return &SubscriberCandidate{Name: name, Email: email}, nil
}

func NewSubscriber(candidate *SubscriberCandidate) *Subscriber {
	return &Subscriber{
		ID:           uuid.New(),
		Email:        candidate.Email,
		Name:         candidate.Name,
		SubscribedAt: time.Now().UTC(),
	}
}
