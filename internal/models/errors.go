package models

import (
	"fmt"
	"strings"
)

const (
	FieldName  = "name"
	FieldEmail = "email"
)

// DecodeError reports a request body that is not valid form encoding.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid form payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports required fields that were absent or empty.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or empty field(s): %s", strings.Join(e.Fields, ", "))
}

// StoreError wraps any failure returned by the subscriber store.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to persist subscriber: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
