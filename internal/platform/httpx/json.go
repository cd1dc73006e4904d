package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// ErrInvalidBody wraps request decoding and validation failures.
var ErrInvalidBody = errors.New("httpx: invalid request body")

// FieldError names one struct field that failed validation.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// BodyError carries the field-level problems of a rejected request body.
type BodyError struct {
	Message string
	Fields  []FieldError
}

func (e *BodyError) Error() string { return e.Message }

func (e *BodyError) Unwrap() error { return ErrInvalidBody }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator, reporting json tag names in errors.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// DecodeJSON reads a single JSON object into dst and runs struct validation.
// Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return &BodyError{Message: "request body is required"}
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &BodyError{Message: "request body is required"}
		}
		return &BodyError{Message: fmt.Sprintf("malformed JSON: %s", err.Error())}
	}
	if decoder.More() {
		return &BodyError{Message: "request body must contain a single JSON object"}
	}
	return ValidateStruct(dst)
}

// ValidateStruct runs the validate tags of v.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &BodyError{Message: err.Error()}
	}
	fields := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), structName(fe)+".")
		fields = append(fields, FieldError{Field: field, Rule: fe.Tag()})
		names = append(names, field)
	}
	return &BodyError{
		Message: "invalid fields: " + strings.Join(names, ", "),
		Fields:  fields,
	}
}

// WriteBodyError renders a 400 validation_error for decode failures.
func WriteBodyError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := NewError("validation_error", err.Error(), http.StatusBadRequest)
	var bodyErr *BodyError
	if errors.As(err, &bodyErr) && len(bodyErr.Fields) > 0 {
		apiErr = apiErr.WithDetails(map[string]any{"fields": bodyErr.Fields})
	}
	WriteError(r.Context(), w, apiErr)
}

// WriteJSON renders payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

func structName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[:idx]
	}
	return ns
}
