package service

import (
	"fmt"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	"subscriber-api/internal/models"
)

const FormContentType = "application/x-www-form-urlencoded"

var recognizedFields = []string{models.FieldName, models.FieldEmail}

// DecodeForm turns a url-encoded request body into a map holding only the
// recognized subscription fields. Unknown keys are dropped; a recognized
// key may appear at most once.
func DecodeForm(contentType string, body []byte) (map[string]string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &models.DecodeError{Err: fmt.Errorf("content type %q: %w", contentType, err)}
	}
	if mediaType != FormContentType {
		return nil, &models.DecodeError{Err: fmt.Errorf("unsupported content type %q", mediaType)}
	}

	values, err := parsePairs(string(body))
	if err != nil {
		return nil, &models.DecodeError{Err: err}
	}

	fields := make(map[string]string, len(recognizedFields))
	for _, key := range recognizedFields {
		vs, ok := values[key]
		if !ok {
			continue
		}
		if len(vs) > 1 {
			return nil, &models.DecodeError{Err: fmt.Errorf("duplicate field %q", key)}
		}
		if !utf8.ValidString(vs[0]) {
			return nil, &models.DecodeError{Err: fmt.Errorf("field %q is not valid UTF-8", key)}
		}
		fields[key] = vs[0]
	}

	return fields, nil
}

// parsePairs splits on '&' only. url.ParseQuery also rejects ';', which is
// an ordinary value character in a form body.
func parsePairs(body string) (url.Values, error) {
	values := make(url.Values)
	for body != "" {
		var pair string
		pair, body, _ = strings.Cut(body, "&")
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		values[key] = append(values[key], value)
	}
	return values, nil
}
