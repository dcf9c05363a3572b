package metadata

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/pkg/logging"
)

const (
	modelsCollection   = "models"
	versionsCollection = "versions"
	apiKeysCollection  = "api-keys"
)

// FirestoreStore implements VersionStore and KeyStore against Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger logging.Interface
}

// NewFirestoreStore wraps an existing Firestore client.
func NewFirestoreStore(client *firestore.Client, logger logging.Interface) *FirestoreStore {
	return &FirestoreStore{client: client, logger: logger}
}

// NewFirestoreClient dials Firestore. An empty projectID detects the
// project from the environment.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return client, nil
}

// ActiveVersionLabel resolves modelName to its active version label.
func (s *FirestoreStore) ActiveVersionLabel(ctx context.Context, modelName string) (string, error) {
	iter := s.client.Collection(modelsCollection).
		Where("name", "==", modelName).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", apierror.New("resolve", modelName,
			fmt.Errorf("%w: model not found", apierror.ErrVersionUnresolved))
	}
	if err != nil {
		return "", apierror.New("resolve", modelName,
			fmt.Errorf("%w: %v", apierror.ErrMetadataUnavailable, err))
	}

	activeVersionID, err := stringField(doc.Data(), "activeVersionId")
	if err != nil || activeVersionID == "" {
		return "", apierror.New("resolve", modelName,
			fmt.Errorf("%w: model has no active version", apierror.ErrVersionUnresolved))
	}

	versionDoc, err := doc.Ref.Collection(versionsCollection).Doc(activeVersionID).Get(ctx)
	if err != nil {
		if versionDoc != nil && !versionDoc.Exists() {
			return "", apierror.New("resolve", modelName,
				fmt.Errorf("%w: active version %s not found", apierror.ErrVersionUnresolved, activeVersionID))
		}
		return "", apierror.New("resolve", modelName,
			fmt.Errorf("%w: %v", apierror.ErrMetadataUnavailable, err))
	}

	label, err := stringField(versionDoc.Data(), "versionLabel")
	if err != nil || label == "" {
		return "", apierror.New("resolve", modelName,
			fmt.Errorf("%w: version %s missing versionLabel", apierror.ErrVersionUnresolved, activeVersionID))
	}

	s.logger.WithField("model", modelName).
		WithField("versionId", activeVersionID).
		WithField("versionLabel", label).
		Debug("Resolved active version")
	return label, nil
}

// LookupKey returns the active key record whose keyHash matches.
func (s *FirestoreStore) LookupKey(ctx context.Context, keyHash string) (*KeyRecord, error) {
	iter := s.client.Collection(apiKeysCollection).
		Where("keyHash", "==", keyHash).
		Where("isActive", "==", true).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, apierror.ErrAuthInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierror.ErrMetadataUnavailable, err)
	}

	record := &KeyRecord{}
	if err := doc.DataTo(record); err != nil {
		return nil, fmt.Errorf("%w: malformed key document: %v", apierror.ErrMetadataUnavailable, err)
	}
	record.ID = doc.Ref.ID

	return record, nil
}

func stringField(data map[string]interface{}, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %s is not a string", key)
	}
	return value, nil
}
