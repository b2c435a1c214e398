package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS archives sessions to a Google Cloud Storage bucket.
type GCS struct {
	Bucket string

	client *storage.Client
}

// NewGCS builds a GCS provider for bucket, using application-default
// credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &GCS{Bucket: bucket, client: client}, nil
}

// Upload streams localPath to the bucket at remotePath.
func (p *GCS) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcs: open %s: %w", localPath, err)
	}
	defer f.Close()

	w := p.client.Bucket(p.Bucket).Object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: upload %s: %w", remotePath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: finalize upload %s: %w", remotePath, err)
	}
	return nil
}

// Download streams remotePath from the bucket into localPath.
func (p *GCS) Download(ctx context.Context, remotePath, localPath string) error {
	r, err := p.client.Bucket(p.Bucket).Object(remotePath).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("gcs: open reader %s: %w", remotePath, err)
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("gcs: create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("gcs: write %s: %w", localPath, err)
	}
	return nil
}

// List enumerates object names under prefix.
func (p *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := p.client.Bucket(p.Bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %s: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Delete removes an object from the bucket.
func (p *GCS) Delete(ctx context.Context, remotePath string) error {
	if err := p.client.Bucket(p.Bucket).Object(remotePath).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("gcs: delete %s: %w", remotePath, err)
	}
	return nil
}
