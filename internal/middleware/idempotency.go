package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/segyhp/loan-engine/pkg/response"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// how long a request may stay in progress before another attempt can take the key
	provisionalLockTTL = 60 * time.Second
	storeTimeout       = 2 * time.Second

	CodeIdempotencyKeyReused  = "IDEMPOTENCY_KEY_REUSED"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeInvalidIdempotencyKey = "INVALID_IDEMPOTENCY_KEY"
	ReplayedHeader            = "Idempotent-Replayed"
)

// Idempotency replays the stored response for a repeated Idempotency-Key on mutating
// requests. The key is scoped to method, path and acting admin; reusing it with a
// different body is refused. Requests without the header pass through, and responses
// marked retryable are not kept.
func Idempotency(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			reqID := IdempotencyKey(r)
			if reqID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !validRequestID(reqID) {
				response.Error(w, http.StatusBadRequest, CodeInvalidIdempotencyKey, "invalid "+HeaderIdempotencyKey+" format", false)
				return
			}

			// Buffer & hash body
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					response.BadRequest(w, "unable to read request body")
					return
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			bhash := bodyHash(body)

			key := buildKey(r.Method, r.URL.Path, AdminFrom(r.Context()), reqID)
			ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
			defer cancel()

			ok, err := provisionalSet(ctx, rdb, key, idempEntry{
				InProgress: true,
				BodySHA256: bhash,
				RequestID:  reqID,
				CreatedAt:  time.Now().UTC(),
			}, provisionalLockTTL)
			if err != nil {
				logger.Error("idempotency store unavailable", zap.String("key", key), zap.Error(err))
				response.ServiceUnavailable(w, "idempotency store unavailable")
				return
			}

			if !ok {
				cur, err := loadEntry(ctx, rdb, key)
				if err != nil {
					logger.Warn("failed to load idempotency entry", zap.String("key", key), zap.Error(err))
				}
				if cur.BodySHA256 != "" && cur.BodySHA256 != bhash {
					response.Error(w, http.StatusUnprocessableEntity, CodeIdempotencyKeyReused,
						HeaderIdempotencyKey+" reused with a different body", false)
					return
				}
				if !cur.InProgress && cur.Code != 0 {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(ReplayedHeader, "true")
					w.WriteHeader(cur.Code)
					_, _ = w.Write(cur.Body)
					return
				}
				response.Error(w, http.StatusConflict, CodeIdempotencyInProgress, "request is already in progress", true)
				return
			}

			rec := &respRecorder{w: w, buf: &bytes.Buffer{}, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(r.Context()), storeTimeout)
			defer storeCancel()

			if retryable(rec.code, rec.buf.Bytes()) {
				if err := rdb.Del(storeCtx, key).Err(); err != nil {
					logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
				}
				return
			}

			final := idempEntry{
				Code:       rec.code,
				Body:       rec.buf.Bytes(),
				BodySHA256: bhash,
				RequestID:  reqID,
				CreatedAt:  time.Now().UTC(),
			}
			if err := saveFinal(storeCtx, rdb, key, final, ttl); err != nil {
				logger.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
