package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"levelup-loyalty/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, received *[]*store.Batch) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"e1","titulo":"LAN party"}]`))
	})
	mux.HandleFunc("/redemptions", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/batch", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		b, err := store.DecodeBatch(body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		*received = append(*received, b)
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func TestClientGet(t *testing.T) {
	var received []*store.Batch
	srv := newTestServer(t, &received)
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", 2*time.Second)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	body, err := c.Get(ctx, store.KeyEvents)
	require.NoError(t, err)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &events))
	assert.Equal(t, "e1", events[0]["id"])

	_, err = c.Get(ctx, store.KeyRedemptionOrders)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	_, err = c.Get(ctx, store.KeyProducts)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrKeyNotFound)

	_, err = c.Get(ctx, store.KeyRedemptionSeq)
	assert.ErrorIs(t, err, store.ErrUnsupported)
}

func TestClientCommit(t *testing.T) {
	var received []*store.Batch
	srv := newTestServer(t, &received)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 2*time.Second)
	ctx := context.Background()

	batch := store.NewBatch("redeem")
	batch.Put(store.KeyRedemptionOrders, []byte(`[]`))
	batch.Put(store.KeyLedger, []byte(`[]`))
	require.NoError(t, c.Commit(ctx, batch))
	require.Len(t, received, 1)
	assert.Equal(t, batch.ID, received[0].ID)
	assert.Equal(t, batch.Keys(), received[0].Keys())

	local := store.NewBatch("counter")
	local.Put(store.KeyRedemptionSeq, []byte(`3`))
	assert.ErrorIs(t, c.Commit(ctx, local), store.ErrUnsupported)
	assert.Len(t, received, 1)
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 200*time.Millisecond)
	ctx := context.Background()

	assert.Error(t, c.Ping(ctx))
	_, err := c.Get(ctx, store.KeyEvents)
	assert.Error(t, err)
}
