package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/app/syncer/apr"
	"github.com/beetslabs/poolsync/pkg/chain"
)

func testController(triggers map[chain.Category]SyncTrigger) *Controller {
	c := NewController(
		zap.NewNop(),
		nil,
		chain.NewRegistry(
			chain.Config{Chain: chain.Fantom},
			chain.Config{Chain: chain.Optimism},
		),
		nil,
		apr.NewRegistry(zap.NewNop()),
		triggers,
	)
	c.apiKey = "secret"
	return c
}

func TestHealth(t *testing.T) {
	router := testController(nil).NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestTriggerSyncRequiresAPIKey(t *testing.T) {
	router := testController(map[chain.Category]SyncTrigger{
		chain.CategoryPoolSnapshots: func(context.Context, chain.Config) (int, error) { return 0, nil },
	}).NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/sync/pool_snapshots", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/sync/pool_snapshots", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerSyncReportsPerChainResults(t *testing.T) {
	router := testController(map[chain.Category]SyncTrigger{
		chain.CategoryPoolSnapshots: func(_ context.Context, cfg chain.Config) (int, error) {
			if cfg.Chain == chain.Optimism {
				return 0, errors.New("subgraph down")
			}
			return 7, nil
		},
	}).NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin/sync/pool_snapshots", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var results []syncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)

	byChain := make(map[chain.Chain]syncResult)
	for _, r := range results {
		byChain[r.Chain] = r
	}
	assert.True(t, byChain[chain.Fantom].Success)
	assert.Equal(t, 7, byChain[chain.Fantom].Rows)
	// The failing chain is flagged, not surfaced as a raw error body.
	assert.False(t, byChain[chain.Optimism].Success)
}

func TestTriggerSyncChainFromHeader(t *testing.T) {
	var got []chain.Chain
	router := testController(map[chain.Category]SyncTrigger{
		chain.CategoryBptBalances: func(_ context.Context, cfg chain.Config) (int, error) {
			got = append(got, cfg.Chain)
			return 1, nil
		},
	}).NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin/sync/bpt_balances", nil)
	req.Header.Set("X-Api-Key", "secret")
	req.Header.Set(chainHeader, "FANTOM")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []chain.Chain{chain.Fantom}, got)
}

func TestTriggerSyncRejectsUnknownChain(t *testing.T) {
	router := testController(map[chain.Category]SyncTrigger{
		chain.CategoryBptBalances: func(context.Context, chain.Config) (int, error) { return 0, nil },
	}).NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin/sync/bpt_balances?chain=DOGECHAIN", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSyncUnknownCategory(t *testing.T) {
	router := testController(nil).NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin/sync/nonsense", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAprsRequiresChain(t *testing.T) {
	router := testController(nil).NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aprs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aprs?chain=FANTOM", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCirculatingSupplyUnconfigured(t *testing.T) {
	router := testController(nil).NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/circulating_supply", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
