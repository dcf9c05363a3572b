package metadata

import (
	"context"
	"fmt"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
)

// LocalStore backs local development without a Firestore project. It serves
// no custom model versions and no API keys; base models and the static base
// key keep working.
type LocalStore struct{}

func (LocalStore) ActiveVersionLabel(_ context.Context, modelName string) (string, error) {
	return "", apierror.New("resolve", modelName,
		fmt.Errorf("%w: no metadata store in local mode", apierror.ErrVersionUnresolved))
}

func (LocalStore) LookupKey(context.Context, string) (*KeyRecord, error) {
	return nil, apierror.ErrAuthInvalid
}
