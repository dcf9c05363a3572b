package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/auth"
	"github.com/inferd-ai/inferd/internal/gateway/config"
	"github.com/inferd-ai/inferd/internal/gateway/metadata"
	"github.com/inferd-ai/inferd/internal/gateway/modelcache"
	"github.com/inferd-ai/inferd/internal/gateway/modelver"
	"github.com/inferd-ai/inferd/internal/gateway/runtime"
	"github.com/inferd-ai/inferd/pkg/logging"
	"github.com/inferd-ai/inferd/pkg/openai"
)

type fakeGenerator struct {
	lastModel string
	chatErr   error
}

func (g *fakeGenerator) Chat(_ context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	g.lastModel = req.Model
	if g.chatErr != nil {
		return nil, g.chatErr
	}
	return &openai.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: openai.ObjectChatCompletion,
		Model:  req.Model,
		Choices: []openai.ChatChoice{{
			Message:      openai.Message{Role: "assistant", Content: "hello"},
			FinishReason: openai.FinishReasonStop,
		}},
	}, nil
}

func (g *fakeGenerator) ChatStream(_ context.Context, req *openai.ChatCompletionRequest, send func(openai.ChatCompletionChunk) error) error {
	g.lastModel = req.Model
	if g.chatErr != nil {
		return g.chatErr
	}
	for _, text := range []string{"hel", "lo"} {
		if err := send(openai.ChatCompletionChunk{
			ID:      "chatcmpl-test",
			Object:  openai.ObjectChatCompletionChunk,
			Model:   req.Model,
			Choices: []openai.StreamChoice{{Delta: openai.Delta{Content: text}}},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (g *fakeGenerator) Complete(_ context.Context, req *openai.CompletionRequest) (*openai.CompletionResponse, error) {
	g.lastModel = req.Model
	return &openai.CompletionResponse{
		ID:     "cmpl-test",
		Object: openai.ObjectTextCompletion,
		Model:  req.Model,
		Choices: []openai.CompletionChoice{{
			Text:         "done",
			FinishReason: openai.FinishReasonStop,
		}},
	}, nil
}

func (g *fakeGenerator) CompleteStream(_ context.Context, req *openai.CompletionRequest, send func(openai.CompletionChunk) error) error {
	g.lastModel = req.Model
	return send(openai.CompletionChunk{ID: "cmpl-test", Model: req.Model})
}

type fakeModelCache struct {
	mu        sync.Mutex
	resident  map[string]bool
	getErr    map[string]error
	unloaded  []string
	stats     []modelcache.EntryStats
	getCalled []string
}

func (f *fakeModelCache) GetModel(_ context.Context, name string) (*modelcache.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalled = append(f.getCalled, name)
	if err := f.getErr[name]; err != nil {
		return nil, err
	}
	if f.resident == nil {
		f.resident = map[string]bool{}
	}
	f.resident[name] = true
	return &modelcache.Handle{Name: name}, nil
}

func (f *fakeModelCache) Unload(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resident[name] {
		delete(f.resident, name)
		f.unloaded = append(f.unloaded, name)
		return true
	}
	return false
}

func (f *fakeModelCache) IsResident(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resident[name]
}

func (f *fakeModelCache) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.resident))
	for name := range f.resident {
		names = append(names, name)
	}
	return names
}

func (f *fakeModelCache) Stats() []modelcache.EntryStats { return f.stats }

type fakeVersionCache struct {
	entries map[string]string
	cleared int
}

func (f *fakeVersionCache) Invalidate(name string) bool {
	if _, ok := f.entries[name]; ok {
		delete(f.entries, name)
		return true
	}
	return false
}

func (f *fakeVersionCache) ClearAll() int {
	n := len(f.entries)
	f.entries = map[string]string{}
	f.cleared += n
	return n
}

func (f *fakeVersionCache) Stats() modelver.Stats {
	stats := modelver.Stats{CachedModels: len(f.entries), CacheTTL: 900, Models: []modelver.EntryStats{}}
	for name, label := range f.entries {
		stats.Models = append(stats.Models, modelver.EntryStats{Name: name, Version: label})
	}
	return stats
}

type staticKeyStore struct {
	records map[string]*metadata.KeyRecord
}

func (s *staticKeyStore) LookupKey(_ context.Context, keyHash string) (*metadata.KeyRecord, error) {
	if record, ok := s.records[keyHash]; ok {
		return record, nil
	}
	return nil, apierror.ErrAuthInvalid
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const (
	scopedKey = "sk_scoped_key"
	adminKey  = "sk_admin_static"
)

// stubRuntime satisfies runtime.Runtime for handler tests; nothing loads
// through it.
type stubRuntime struct{}

func (stubRuntime) Device() runtime.Device { return runtime.Device{Kind: runtime.DeviceCPU} }
func (stubRuntime) FreeMemoryGB() float64  { return 64 }
func (stubRuntime) LoadModel(context.Context, string, runtime.Precision) (runtime.Model, error) {
	return nil, nil
}
func (stubRuntime) ComposeAdapter(context.Context, runtime.Model, string) (runtime.Model, error) {
	return nil, nil
}
func (stubRuntime) ClearDeviceCache() {}

type fixture struct {
	router    *gin.Engine
	generator *fakeGenerator
	cache     *fakeModelCache
	versions  *fakeVersionCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	generator := &fakeGenerator{}
	cache := &fakeModelCache{resident: map[string]bool{"support-triage": true}}
	versions := &fakeVersionCache{entries: map[string]string{"support-triage": "v3"}}

	keys := &staticKeyStore{records: map[string]*metadata.KeyRecord{
		hashToken(scopedKey): {ID: "key-1", IsActive: true, ModelName: "support-triage", UserID: "user-7"},
	}}
	authn := auth.New(keys, true, adminKey, logging.Discard())

	cfg := &config.Config{Port: 8080, GCSBucket: "test-bucket", MaxConcurrentRequests: 50}
	s := New(cfg, generator, cache, versions, authn, stubRuntime{}, logging.Discard(), zap.NewNop())
	return &fixture{router: s.Router(), generator: generator, cache: cache, versions: versions}
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t)

	t.Run("root", func(t *testing.T) {
		w := f.do(http.MethodGet, "/", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "inferd-gateway")
	})

	t.Run("health", func(t *testing.T) {
		w := f.do(http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "healthy")
		assert.Contains(t, w.Body.String(), "support-triage")
	})

	t.Run("models list needs no auth", func(t *testing.T) {
		w := f.do(http.MethodGet, "/v1/models", "", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var resp openai.ModelListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, openai.ObjectList, resp.Object)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "support-triage", resp.Data[0].ID)
	})

	t.Run("metrics", func(t *testing.T) {
		w := f.do(http.MethodGet, "/metrics", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestChatCompletions(t *testing.T) {
	body := `{"model":"support-triage","messages":[{"role":"user","content":"hi"}]}`

	t.Run("requires auth", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/v1/chat/completions", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("scoped key on its model", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/v1/chat/completions", scopedKey, body)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "hello")
	})

	t.Run("scoped key denied on other model", func(t *testing.T) {
		f := newFixture(t)
		other := `{"model":"other-model","messages":[{"role":"user","content":"hi"}]}`
		w := f.do(http.MethodPost, "/v1/chat/completions", scopedKey, other)
		assert.Equal(t, http.StatusForbidden, w.Code)
		// Scope rejection happens before any model load.
		assert.Empty(t, f.cache.getCalled)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/v1/chat/completions", adminKey, "{nope")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("engine error maps to status", func(t *testing.T) {
		f := newFixture(t)
		f.generator.chatErr = apierror.New("generate", "support-triage", apierror.ErrGpuFault)
		w := f.do(http.MethodPost, "/v1/chat/completions", adminKey, body)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "server_error")
	})
}

func TestChatCompletionsPathModelOverride(t *testing.T) {
	f := newFixture(t)

	// The body names another model; the path segment wins.
	body := `{"model":"ignored-model","messages":[{"role":"user","content":"hi"}]}`
	w := f.do(http.MethodPost, "/v1/support-triage/chat/completions", scopedKey, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "support-triage", f.generator.lastModel)
}

func TestChatCompletionsStreaming(t *testing.T) {
	f := newFixture(t)

	body := `{"model":"support-triage","messages":[{"role":"user","content":"hi"}],"stream":true}`
	w := f.do(http.MethodPost, "/v1/chat/completions", scopedKey, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.GreaterOrEqual(t, len(frames), 3)
	for _, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "data: "))
	}
	assert.Equal(t, "data: [DONE]", frames[len(frames)-1])
}

func TestCompletions(t *testing.T) {
	f := newFixture(t)

	body := `{"model":"support-triage","prompt":"Once"}`
	w := f.do(http.MethodPost, "/v1/completions", scopedKey, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "done")
}
