package artifact

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/pkg/logging"
)

// ObjectClient is the slice of object-store behavior the artifact store
// needs. Tests substitute an in-memory implementation.
type ObjectClient interface {
	// List returns object names under prefix. max bounds the result when
	// positive; zero means unbounded.
	List(ctx context.Context, prefix string, max int) ([]string, error)
	// Open returns a reader over the named object. A missing object surfaces
	// as apierror.ErrArtifactNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// GCSClient implements ObjectClient against a single GCS bucket.
type GCSClient struct {
	client *gcs.Client
	bucket string
	logger logging.Interface
}

// NewGCSClient dials GCS with ambient credentials.
func NewGCSClient(ctx context.Context, bucket string, logger logging.Interface) (*GCSClient, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	logger.WithField("bucket", bucket).Info("Connected to GCS bucket")
	return &GCSClient{client: client, bucket: bucket, logger: logger}, nil
}

// List returns object names under prefix.
func (c *GCSClient) List(ctx context.Context, prefix string, max int) ([]string, error) {
	it := c.client.Bucket(c.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing gs://%s/%s: %w", c.bucket, prefix, err)
		}
		names = append(names, attrs.Name)
		if max > 0 && len(names) >= max {
			break
		}
	}
	return names, nil
}

// Open returns a reader over the named object.
func (c *GCSClient) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := c.client.Bucket(c.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			return nil, apierror.New("open", name, apierror.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("opening gs://%s/%s: %w", c.bucket, name, err)
	}
	return reader, nil
}

// Close releases the underlying client.
func (c *GCSClient) Close() error {
	return c.client.Close()
}
