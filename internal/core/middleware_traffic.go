package core

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// IdempotencyKeyHeader opts a POST into exactly-once handling.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxIdempotencyKeyLen keeps Redis keys bounded.
const maxIdempotencyKeyLen = 255

// ResponseCapturer buffers status, headers, and body so the idempotency
// middleware can store the response before it reaches the client.
type ResponseCapturer struct {
	underlying http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	headers    http.Header
	written    bool
}

func newResponseCapturer(w http.ResponseWriter) *ResponseCapturer {
	return &ResponseCapturer{
		underlying: w,
		statusCode: http.StatusOK,
		headers:    make(http.Header),
	}
}

func (rc *ResponseCapturer) Header() http.Header {
	return rc.headers
}

func (rc *ResponseCapturer) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
}

func (rc *ResponseCapturer) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.body.Write(b)
}

// Flush sends the buffered response. Call it exactly once.
func (rc *ResponseCapturer) Flush() {
	for key, values := range rc.headers {
		for _, v := range values {
			rc.underlying.Header().Add(key, v)
		}
	}
	rc.underlying.WriteHeader(rc.statusCode)
	_, _ = rc.underlying.Write(rc.body.Bytes())
}

func (rc *ResponseCapturer) Unwrap() http.ResponseWriter {
	return rc.underlying
}

func (rc *ResponseCapturer) StatusCode() int {
	return rc.statusCode
}

func (rc *ResponseCapturer) Body() []byte {
	return rc.body.Bytes()
}

// IdempotencyMiddleware processes a POST carrying an Idempotency-Key at most
// once per key and path.
//
//  1. Completed key: replay the stored response with X-Idempotent-Replayed.
//  2. Key in flight: 409 conflict_idempotency_in_progress.
//  3. New key: run the handler, store responses below 500, release the key
//     on 5xx so the client may retry.
//
// Store errors fail open: the request runs without idempotency.
func (s *Server) IdempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Idempotency == nil || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "Idempotency-Key must be at most 255 characters", nil))
			return
		}

		ctx := r.Context()
		scope := r.URL.Path
		log := s.Logger.With(slog.String("idempotency_key", key), slog.String("scope", scope))

		record, acquired, err := s.Idempotency.Begin(ctx, key, scope)
		if err != nil {
			log.Error("idempotency store begin error", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		if !acquired && record != nil {
			switch record.Status {
			case types.IdempotencyStatusCompleted:
				log.Info("idempotency key hit, replaying response", slog.Int("cached_status", record.ResponseCode))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotent-Replayed", "true")
				w.WriteHeader(record.ResponseCode)
				_, _ = w.Write(record.ResponseBody)
				return
			default:
				log.Warn("idempotency key conflict, request in progress")
				Error(w, r, types.NewAppError(types.ErrCodeConflictIdempotency,
					"a request with this idempotency key is currently being processed", nil))
				return
			}
		}

		capturer := newResponseCapturer(w)
		next.ServeHTTP(capturer, r)

		status := capturer.StatusCode()
		if status < http.StatusInternalServerError {
			// Client errors are stored too: the same key must see the same
			// validation failure.
			if err := s.Idempotency.Complete(ctx, key, scope, status, capturer.Body()); err != nil {
				log.Error("idempotency store complete error", slog.String("error", err.Error()))
			}
		} else if err := s.Idempotency.Release(ctx, key, scope); err != nil {
			log.Error("idempotency store release error", slog.String("error", err.Error()))
		}

		capturer.Flush()
	})
}
