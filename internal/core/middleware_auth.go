package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// ServiceKeyHeader carries the shared key of the calling backend.
const ServiceKeyHeader = "X-Service-Key"

// sourceHeader optionally names the calling system for logs.
const sourceHeader = "X-Client-Source"

const defaultActorSource = "school_app"

// PasswordHasher abstracts bcrypt for tests.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
}

type bcryptHasher struct{}

func (bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// serviceKeyVerifier checks keys against one bcrypt hash. The digest of the
// last accepted key is remembered so steady traffic pays the bcrypt cost once.
type serviceKeyVerifier struct {
	hash   string
	hasher PasswordHasher

	mu       sync.Mutex
	accepted []byte
}

func (v *serviceKeyVerifier) verify(key string) bool {
	digest := sha256.Sum256([]byte(key))

	v.mu.Lock()
	cached := v.accepted
	v.mu.Unlock()
	if cached != nil && subtle.ConstantTimeCompare(cached, digest[:]) == 1 {
		return true
	}

	if err := v.hasher.CompareHashAndPassword(v.hash, key); err != nil {
		return false
	}

	v.mu.Lock()
	v.accepted = digest[:]
	v.mu.Unlock()
	return true
}

// ServiceKeyMiddleware authenticates callers by the X-Service-Key header
// against Security.ServiceKeyHash and injects a service Actor. An unset hash
// disables the check; cmd/api warns about it outside local.
//
// Responses:
//   - auth_token_missing (401) when the header is absent.
//   - auth_token_invalid (401) when the key does not match.
func (s *Server) ServiceKeyMiddleware(next http.Handler) http.Handler {
	verifier := s.keyVerifier()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := r.Header.Get(sourceHeader)
		if source == "" {
			source = defaultActorSource
		}

		if verifier == nil {
			ctx := types.WithActor(r.Context(), types.Actor{ID: "anonymous", Type: types.ActorTypeService, Source: source})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		key := r.Header.Get(ServiceKeyHeader)
		if key == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, ServiceKeyHeader+" header is required")
			return
		}
		if !verifier.verify(key) {
			s.Logger.Warn("service key rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"request_id", types.GetRequestID(r.Context()),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "invalid service key")
			return
		}

		ctx := types.WithActor(r.Context(), types.Actor{ID: "service", Type: types.ActorTypeService, Source: source})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) keyVerifier() *serviceKeyVerifier {
	if s.Config == nil || !s.Config.Security.ServiceKeyHash.IsSet() {
		return nil
	}
	hasher := s.Hasher
	if hasher == nil {
		hasher = bcryptHasher{}
	}
	return &serviceKeyVerifier{hash: s.Config.Security.ServiceKeyHash.Unmask(), hasher: hasher}
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, code.HTTPStatus(), APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
