package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/obs"
)

var errEmptyBody = errors.New("request body is required")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess wraps data in the action envelope.
func writeSuccess(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

// writeFailure maps err to its status and caller-facing message. Errors
// outside the taxonomy are logged in full and reported generically.
func writeFailure(w http.ResponseWriter, r *http.Request, action string, err error) {
	rid := RequestIDFromContext(r.Context())
	if apperr.Internal(err) {
		obs.Error("action failed", err, map[string]any{
			"action":     action,
			"request_id": rid,
			"path":       r.URL.Path,
		})
	}
	payload := map[string]any{
		"success": false,
		"error":   apperr.Message(err),
	}
	if rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, apperr.Status(err), payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, errEmptyBody)
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: request body exceeds %d bytes", apperr.ErrInvalidInput, maxErr.Limit)
		default:
			return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", apperr.ErrInvalidInput)
	}
	return nil
}

// bind decodes the body into dst and validates its tags.
func (a *API) bind(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return a.check(dst)
}

func (a *API) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, strings.Join(parts, "; "))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrInvalidInput, key)
	}
	return v, nil
}
