package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"deliveryerp/internal/middleware"
	"deliveryerp/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderName   = "Idempotency-Key"
	ReplayHeader = "X-Idempotent-Replay"
)

// Config tunes the middleware.
type Config struct {
	TTL        time.Duration // replay window of a completed response
	PendingTTL time.Duration // lifetime of a reservation still in flight
	Log        *zap.Logger
	Clock      func() time.Time
}

// Middleware replays the stored response when a request repeats an Idempotency-Key.
// Requests without the header pass through. A key still in flight answers 409 and a
// key reused with a different body answers 422. 5xx responses and handler panics
// release the key so the client may retry.
func Middleware(store Store, cfg Config) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderName))
		if key == "" || store == nil {
			c.Next()
			return
		}

		body, err := readAndReplayBody(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "unable to read request body"))
			return
		}

		user := middleware.UserID(c)
		scoped := scopedKey(key, user)
		fingerprint := requestFingerprint(c.Request, user, body)
		ctx := c.Request.Context()

		reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.Clock().UTC(), cfg.PendingTTL)
		switch {
		case errors.Is(err, ErrFingerprintMismatch):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "Idempotency-Key already used for a different request"))
			return
		case err != nil:
			cfg.Log.Error("idempotency reserve failed", zap.String("key", key), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "unable to process Idempotency-Key"))
			return
		}

		switch reservation.State {
		case ReservationCompleted:
			replay(c, reservation.Record)
			return
		case ReservationPending:
			c.AbortWithStatusJSON(http.StatusConflict, response.Error(http.StatusConflict, "a request with this Idempotency-Key is still in progress"))
			return
		}

		// The outcome is stored even when the client has gone away.
		storeCtx := context.WithoutCancel(ctx)
		release := func() {
			if err := store.Release(storeCtx, scoped); err != nil {
				cfg.Log.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
			}
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		defer func() {
			if r := recover(); r != nil {
				release()
				panic(r)
			}
		}()
		c.Next()

		status := recorder.Status()
		if status >= http.StatusInternalServerError {
			release()
			return
		}

		resp := Response{
			StatusCode:  status,
			ContentType: recorder.Header().Get("Content-Type"),
			Body:        recorder.body.Bytes(),
		}
		if err := store.Complete(storeCtx, scoped, fingerprint, resp, cfg.Clock().UTC(), cfg.TTL); err != nil {
			cfg.Log.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
			release()
		}
	}
}

func replay(c *gin.Context, record Record) {
	c.Header(ReplayHeader, "true")
	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	status := record.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, contentType, record.ResponseBody)
	c.Abort()
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func scopedKey(key, user string) string {
	if user == "" {
		user = "anonymous"
	}
	return user + "|" + key
}

func requestFingerprint(r *http.Request, user string, body []byte) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("|")
	b.WriteString(r.URL.Path)
	b.WriteString("|")
	b.WriteString(user)
	b.WriteString("|")
	b.WriteString(sha256Hex(body))
	return sha256Hex([]byte(b.String()))
}

// bodyRecorder tees the handler output so it can be stored.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
