package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

const maxBodyBytes = 1 << 20

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Fields []ValidationError `json:"fields"`
}

type validationErrors []ValidationError

func (v validationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

var messages = map[string]string{
	"required": "field is required",
	"uuid":     "must be a valid UUID",
	"min":      "value is too small",
	"max":      "value is too large",
	"gte":      "value is too small",
	"oneof":    "value is not allowed",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

var validate = newValidator()

// decode reads a JSON body into dst and runs struct validation on it.
func decode(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "could not parse JSON body")
	}
	return check(dst)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInvalidInput, err, "invalid request")
	}
	out := make(validationErrors, 0, len(verrs))
	for _, e := range verrs {
		msg := messages[e.Tag()]
		if msg == "" {
			msg = fmt.Sprintf("failed %q validation", e.Tag())
		}
		out = append(out, ValidationError{Field: e.Field(), Message: msg})
	}
	return apperr.Wrap(apperr.KindInvalidInput, out, "invalid request")
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidInput, "%s must be a valid UUID", field)
	}
	return id, nil
}

func parseOptionalUUID(raw, field string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := parseUUID(raw, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// decodeOptional is decode for endpoints whose body may be omitted.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return check(dst)
	}
	return decode(r, dst)
}

// customerParam reads ?customer_id, falling back to the caller's own id.
func customerParam(r *http.Request) (uuid.UUID, error) {
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		return parseUUID(raw, "customer_id")
	}
	return principal(r).ID, nil
}
