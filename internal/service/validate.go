package service

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"

	"subscriber-api/internal/models"
)

type subscriptionForm struct {
	Name  string `form:"name" binding:"required"`
	Email string `form:"email" binding:"required"`
}

var formValidator = newFormValidator()

// newFormValidator reads gin-style binding tags and reports fields by
// their form key.
func newFormValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("form")
	})
	return v
}

// ParseSubscriberCandidate checks that name and email are both present and
// non-empty. An absent key and an empty value are treated the same.
func ParseSubscriberCandidate(fields map[string]string) (*models.SubscriberCandidate, error) {
	form := subscriptionForm{
		Name:  fields[models.FieldName],
		Email: fields[models.FieldEmail],
	}

	if err := formValidator.Struct(&form); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, err
		}
		missing := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			missing = append(missing, fe.Field())
		}
		return nil, &models.ValidationError{Fields: missing}
	}

	return models.NewSubscriberCandidate(form.Name, form.Email)
}
