package idempotency

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store Store, calls *int32, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/cashbox/income", Middleware(store, Config{}), func(c *gin.Context) {
		n := atomic.AddInt32(calls, 1)
		c.JSON(status, gin.H{"call": n})
	})
	return r
}

func post(r http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/cashbox/income", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int32
	r := newTestRouter(NewMemoryStore(), &calls, http.StatusCreated)

	first := post(r, "k-1", `{"amount_usd":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(r, "k-1", `{"amount_usd":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMiddleware_DifferentBodyRejected(t *testing.T) {
	var calls int32
	r := newTestRouter(NewMemoryStore(), &calls, http.StatusCreated)

	require.Equal(t, http.StatusCreated, post(r, "k-2", `{"amount_usd":"10"}`).Code)
	w := post(r, "k-2", `{"amount_usd":"11"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	store := NewMemoryStore()
	var calls int32
	r := newTestRouter(store, &calls, http.StatusCreated)

	body := `{"amount_usd":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/cashbox/income", strings.NewReader(body))
	fp := requestFingerprint(req, "", []byte(body))
	_, err := store.Reserve(req.Context(), scopedKey("k-3", ""), fp, time.Now().UTC(), time.Minute)
	require.NoError(t, err)

	w := post(r, "k-3", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	var calls int32
	r := newTestRouter(NewMemoryStore(), &calls, http.StatusInternalServerError)

	post(r, "k-4", `{}`)
	post(r, "k-4", `{}`)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	var calls int32
	r := newTestRouter(NewMemoryStore(), &calls, http.StatusCreated)

	post(r, "", `{}`)
	post(r, "", `{}`)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMemoryStore_ExpiredKeyIsReusable(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	_, err := store.Reserve(ctx, "k", "fp-a", now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "k", "fp-a", Response{StatusCode: 201}, now, time.Minute))

	res, err := store.Reserve(ctx, "k", "fp-b", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationNew, res.State)
}

func TestMiddleware_PanicReleasesKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var calls int32
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/api/cashbox/income", Middleware(NewMemoryStore(), Config{}), func(c *gin.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("ledger unavailable")
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	first := post(r, "k-5", `{"amount_usd":"10"}`)
	assert.Equal(t, http.StatusInternalServerError, first.Code)

	second := post(r, "k-5", `{"amount_usd":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMiddleware_StalePendingKeyExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var calls int32

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/cashbox/income", Middleware(store, Config{PendingTTL: time.Minute, Clock: func() time.Time { return now }}), func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	body := `{"amount_usd":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/cashbox/income", strings.NewReader(body))
	fp := requestFingerprint(req, "", []byte(body))
	_, err := store.Reserve(req.Context(), scopedKey("k-6", ""), fp, now, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, post(r, "k-6", body).Code)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusCreated, post(r, "k-6", body).Code)

	// completed responses keep the longer replay window
	now = now.Add(time.Hour)
	replayed := post(r, "k-6", body)
	assert.Equal(t, "true", replayed.Header().Get(ReplayHeader))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMemoryStore_SweepsExpiredRecords(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Reserve(ctx, key, "fp", now, time.Minute)
		require.NoError(t, err)
	}
	require.Len(t, store.records, 3)

	_, err := store.Reserve(ctx, "d", "fp", now.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Len(t, store.records, 1)
	assert.Contains(t, store.records, "d")
}
