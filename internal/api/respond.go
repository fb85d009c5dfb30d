package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"repage/internal/services"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: message}})
}

// statusFor maps a service error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case services.CodeTemplateNotFound, services.CodeConversionNotFound, services.CodeImageNotFound:
		return http.StatusNotFound
	case services.CodeValidation:
		return http.StatusUnprocessableEntity
	case services.CodeInvalidStatus:
		return http.StatusConflict
	case services.CodeLLMError, services.CodeConverterError:
		return http.StatusBadGateway
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError renders err in the error envelope. Uncoded errors are logged
// and reported without their detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := services.CodeOf(err)
	status := statusFor(code)
	message := err.Error()

	var appErr *services.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	switch code {
	case services.CodeTemplateNotFound:
		message = "template not found"
	case services.CodeConversionNotFound:
		message = "conversion not found"
	case services.CodeImageNotFound:
		message = "image not found"
	case "":
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		code = "INTERNAL_ERROR"
		message = "internal server error"
	}
	writeErrorCode(w, status, code, message)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return &services.AppError{Code: services.CodeValidation, Message: "invalid JSON body", Err: err}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &services.AppError{Code: services.CodeValidation, Message: fmt.Sprintf("invalid %s %q", name, raw)}
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// queryBool reads a boolean query parameter, defaulting when absent or
// malformed.
func queryBool(r *http.Request, key string, fallback bool) bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// requestLogger logs each request once it completes.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
