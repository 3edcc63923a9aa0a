package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yieldprotocol/indexer"
)

const maxIdempotencyKey = 64

// statusPending marks a claimed key whose request has not finished.
const statusPending = 0

// WithIdempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated subject. A key is claimed before the
// handler runs, so a repeat that arrives while the first request is still in
// flight is refused with 409. Server errors release the claim so the caller
// can retry them.
func WithIdempotency(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if raw == "" || db == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, "InvalidRequest", "idempotency key too long")
				return
			}
			subject, _ := Subject(r.Context())
			key := subject + ":" + r.Method + ":" + r.URL.Path + ":" + raw
			store := db.WithContext(r.Context())

			claim := store.Clauses(clause.OnConflict{DoNothing: true}).Create(&indexer.IdempotencyKey{
				Key:       key,
				RequestID: uuid.NewString(),
				Status:    statusPending,
				CreatedAt: time.Now().UTC(),
			})
			if claim.Error != nil {
				writeError(w, http.StatusServiceUnavailable, "Unavailable", "idempotency store unavailable")
				return
			}
			if claim.RowsAffected == 0 {
				replayIdempotent(w, store, key)
				return
			}

			recorder := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			if recorder.status == 0 {
				recorder.status = http.StatusOK
			}
			// The response is already written; store failures are only logged.
			store = db.WithContext(context.WithoutCancel(r.Context()))
			if recorder.status >= http.StatusInternalServerError {
				if err := store.Delete(&indexer.IdempotencyKey{}, "key = ?", key).Error; err != nil {
					slog.Default().Warn("idempotency release failed", slog.String("error", err.Error()))
				}
				return
			}
			err := store.Model(&indexer.IdempotencyKey{}).Where("key = ?", key).Updates(map[string]any{
				"status":   recorder.status,
				"response": recorder.buf.String(),
			}).Error
			if err != nil {
				slog.Default().Warn("idempotency record failed", slog.String("error", err.Error()))
			}
		})
	}
}

func replayIdempotent(w http.ResponseWriter, store *gorm.DB, key string) {
	var record indexer.IdempotencyKey
	err := store.First(&record, "key = ?", key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Claim released by a failed request between our insert and read.
		writeError(w, http.StatusConflict, "IdempotencyConflict", "request with this key was retried concurrently")
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "idempotency store unavailable")
	case record.Status == statusPending:
		writeError(w, http.StatusConflict, "IdempotencyConflict", "request with this key is still in progress")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replay", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write([]byte(record.Response))
	}
}

type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
