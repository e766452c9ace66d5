package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPLedger_PostsTransfers(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p transferPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got = append(got, r.URL.Path+" "+p.Address.String())
		assert.Equal(t, uint64(42), p.Amount)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	l := NewHTTPLedger(HTTPConfig{URL: srv.URL + "/", Timeout: time.Second}, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, l.TransferIn(ctx, alice, 42))
	require.NoError(t, l.TransferOut(ctx, bob, 42))

	assert.Equal(t, []string{
		"/transfers/in " + alice.String(),
		"/transfers/out " + bob.String(),
	}, got)
}

func TestHTTPLedger_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	l := NewHTTPLedger(HTTPConfig{URL: srv.URL, Timeout: time.Second}, nil)

	err := l.TransferIn(context.Background(), alice, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestHTTPLedger_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := NewHTTPLedger(HTTPConfig{
		URL:     srv.URL,
		Timeout: time.Second,
		Breaker: BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Minute},
	}, zaptest.NewLogger(t))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.Error(t, l.TransferOut(ctx, bob, 1))
	}

	err := l.TransferOut(ctx, bob, 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load(), "an open breaker must not reach the ledger")
}

func TestHTTPLedger_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	l := NewHTTPLedger(HTTPConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	assert.Error(t, l.TransferIn(context.Background(), alice, 1))
}
