// Package auth validates API keys and enforces per-model scoping. Keys are
// looked up by SHA-256 hash in the metadata store and cached with a TTL so
// the hot path stays off Firestore.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/metadata"
	"github.com/inferd-ai/inferd/pkg/logging"
)

const (
	// keyCacheSize bounds the validated-key cache.
	keyCacheSize = 1000
	// keyCacheTTL is how long a validated key skips the store lookup.
	keyCacheTTL = 30 * time.Minute

	// ScopeAll grants access to every model.
	ScopeAll = "*"
)

// Recognized key prefixes.
var keyPrefixes = []string{"sk_", "ak_"}

// Principal is an authenticated caller.
type Principal struct {
	KeyID      string
	UserID     string
	Type       string
	ModelScope string
}

// Allows reports whether the principal may call the given model.
func (p *Principal) Allows(model string) bool {
	return p.ModelScope == ScopeAll || p.ModelScope == model
}

// Authenticator validates bearer tokens against the key store.
type Authenticator struct {
	keys        metadata.KeyStore
	cache       *expirable.LRU[string, *metadata.KeyRecord]
	requireAuth bool
	baseKey     string
	logger      logging.Interface
	now         func() time.Time
}

// New builds an authenticator. baseKey, when non-empty, is a static key with
// access to every model.
func New(keys metadata.KeyStore, requireAuth bool, baseKey string, logger logging.Interface) *Authenticator {
	return &Authenticator{
		keys:        keys,
		cache:       expirable.NewLRU[string, *metadata.KeyRecord](keyCacheSize, nil, keyCacheTTL),
		requireAuth: requireAuth,
		baseKey:     baseKey,
		logger:      logger,
		now:         time.Now,
	}
}

// Authenticate resolves a bearer token to a principal. With auth disabled it
// returns a synthetic all-access principal regardless of the token.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if !a.requireAuth {
		return &Principal{Type: "anonymous", ModelScope: ScopeAll}, nil
	}

	if token == "" {
		return nil, apierror.ErrAuthMissing
	}

	if a.baseKey != "" && token == a.baseKey {
		return &Principal{Type: "base", ModelScope: ScopeAll}, nil
	}

	if !hasKeyPrefix(token) {
		return nil, apierror.ErrAuthMalformed
	}

	hash := hashKey(token)

	if record, ok := a.cache.Get(hash); ok {
		return a.principalFor(record)
	}

	record, err := a.keys.LookupKey(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record.Expired(a.now()) {
		return nil, apierror.ErrAuthExpired
	}

	a.cache.Add(hash, record)
	return a.principalFor(record)
}

// principalFor re-checks expiry so cached keys cannot outlive it.
func (a *Authenticator) principalFor(record *metadata.KeyRecord) (*Principal, error) {
	if record.Expired(a.now()) {
		return nil, apierror.ErrAuthExpired
	}

	scope := record.ModelName
	if scope == "" {
		scope = ScopeAll
	}
	return &Principal{
		KeyID:      record.ID,
		UserID:     record.UserID,
		Type:       record.Type,
		ModelScope: scope,
	}, nil
}

// Authorize checks the principal's model scope.
func (a *Authenticator) Authorize(p *Principal, model string) error {
	if p.Allows(model) {
		return nil
	}
	a.logger.WithField("user", p.UserID).
		WithField("model", model).
		Debug("Model access denied by key scope")
	return apierror.New("authorize", model, apierror.ErrScopeDenied)
}

func hasKeyPrefix(token string) bool {
	for _, prefix := range keyPrefixes {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}

func hashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
