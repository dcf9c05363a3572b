// Package metadata reads the control-plane state the fine-tuning pipeline
// writes to Firestore: which version of each custom model is active, and the
// API keys that may call the gateway.
package metadata

import (
	"context"
	"time"
)

// VersionStore resolves the active version label of a custom model.
type VersionStore interface {
	// ActiveVersionLabel returns the version label the model is currently
	// pinned to. A missing model document, missing activeVersionId, missing
	// version document, or missing versionLabel surfaces as
	// apierror.ErrVersionUnresolved.
	ActiveVersionLabel(ctx context.Context, modelName string) (string, error)
}

// KeyRecord is one API key document.
type KeyRecord struct {
	ID        string
	KeyHash   string    `firestore:"keyHash"`
	IsActive  bool      `firestore:"isActive"`
	ExpiresAt time.Time `firestore:"expiresAt"`
	ModelName string    `firestore:"modelName"`
	UserID    string    `firestore:"userId"`
	Type      string    `firestore:"type"`
}

// Expired reports whether the key is past its expiry. Keys without an expiry
// never expire.
func (r *KeyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// KeyStore looks up API keys by their SHA-256 hash.
type KeyStore interface {
	// LookupKey returns the active key record matching the hash, or
	// apierror.ErrAuthInvalid when no active key matches.
	LookupKey(ctx context.Context, keyHash string) (*KeyRecord, error)
}
