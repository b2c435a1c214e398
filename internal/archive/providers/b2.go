package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Backblaze/blazer/b2"
)

// B2 archives sessions to a Backblaze B2 bucket.
type B2 struct {
	bucket *b2.Bucket
}

// NewB2 builds a B2 provider for bucketName under the given account.
func NewB2(ctx context.Context, accountID, applicationKey, bucketName string) (*B2, error) {
	if bucketName == "" {
		return nil, errors.New("b2 bucket name is required")
	}
	client, err := b2.NewClient(ctx, accountID, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("b2: new client: %w", err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("b2: open bucket %s: %w", bucketName, err)
	}
	return &B2{bucket: bucket}, nil
}

// Upload streams localPath to the bucket at remotePath.
func (p *B2) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("b2: open %s: %w", localPath, err)
	}
	defer f.Close()

	w := p.bucket.Object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("b2: upload %s: %w", remotePath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("b2: finalize upload %s: %w", remotePath, err)
	}
	return nil
}

// Download streams remotePath from the bucket into localPath.
func (p *B2) Download(ctx context.Context, remotePath, localPath string) error {
	r := p.bucket.Object(remotePath).NewReader(ctx)
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("b2: create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("b2: write %s: %w", localPath, err)
	}
	return nil
}

// List enumerates object names under prefix.
func (p *B2) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := p.bucket.List(ctx, b2.ListPrefix(prefix))
	for iter.Next() {
		names = append(names, iter.Object().Name())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("b2: list %s: %w", prefix, err)
	}
	return names, nil
}

// Delete removes an object from the bucket.
func (p *B2) Delete(ctx context.Context, remotePath string) error {
	if err := p.bucket.Object(remotePath).Delete(ctx); err != nil {
		return fmt.Errorf("b2: delete %s: %w", remotePath, err)
	}
	return nil
}
