package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
)

func TestAdminRequiresAllAccessKey(t *testing.T) {
	f := newFixture(t)

	t.Run("no key", func(t *testing.T) {
		w := f.do(http.MethodGet, "/admin/stats", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("model-scoped key", func(t *testing.T) {
		w := f.do(http.MethodGet, "/admin/stats", scopedKey, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("all-access key", func(t *testing.T) {
		w := f.do(http.MethodGet, "/admin/stats", adminKey, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAdminUnload(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/admin/unload/support-triage", adminKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["model_unloaded"])
	assert.Equal(t, "support-triage", resp["model"])

	// Second unload is a no-op.
	w = f.do(http.MethodPost, "/admin/unload/support-triage", adminKey, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["model_unloaded"])
}

func TestAdminInvalidateCache(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/admin/invalidate-cache/support-triage", adminKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["version_cache_cleared"])
	assert.Equal(t, true, resp["model_unloaded"])
	assert.NotEmpty(t, resp["requestedBy"])

	// Nothing left to invalidate.
	w = f.do(http.MethodPost, "/admin/invalidate-cache/support-triage", adminKey, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["version_cache_cleared"])
	assert.Equal(t, false, resp["model_unloaded"])
}

func TestAdminClearVersionCache(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/admin/clear-all-version-cache", adminKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["entries_cleared"])
}

func TestAdminVersionCacheStats(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/admin/version-cache-stats", adminKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["cached_models"])
	assert.Equal(t, float64(900), resp["cache_ttl"])
	assert.NotNil(t, resp["models"])
}

func TestAdminPrewarm(t *testing.T) {
	f := newFixture(t)
	f.cache.getErr = map[string]error{
		"broken-model": apierror.New("resolve", "broken-model", apierror.ErrVersionUnresolved),
	}

	body := `{"model_ids":["support-triage","new/model","broken-model"]}`
	w := f.do(http.MethodPost, "/admin/prewarm", adminKey, body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []prewarmResult `json:"results"`
		Total   int             `json:"total"`
		Success int             `json:"succeeded"`
		Failed  int             `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Success)
	assert.Equal(t, 1, resp.Failed)

	byID := map[string]prewarmResult{}
	for _, r := range resp.Results {
		byID[r.ModelID] = r
	}
	assert.Equal(t, "already_loaded", byID["support-triage"].Status)
	assert.Equal(t, "loaded", byID["new/model"].Status)
	assert.Equal(t, "new-model", byID["new/model"].NormalizedModelID)
	assert.Equal(t, "error", byID["broken-model"].Status)
	assert.NotEmpty(t, byID["broken-model"].Error)
}

func TestAdminPrewarmParallel(t *testing.T) {
	f := newFixture(t)

	body := `{"model_ids":["a-model","b-model"],"parallel":true}`
	w := f.do(http.MethodPost, "/admin/prewarm", adminKey, body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["succeeded"])
}

func TestAdminPrewarmValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/admin/prewarm", adminKey, `{"model_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
