package providers

import (
	"context"
	"fmt"
)

// Options carries the subset of connection settings any provider might
// need; unused fields are ignored by a given provider. Kept as plain
// strings (not a config.Config reference) so this package stays
// independent of the application's configuration layer.
type Options struct {
	Bucket          string
	Region          string
	LocalPath       string
	AccountName     string
	AccountKey      string
	AccountURL      string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ApplicationKey  string
}

// New constructs a Provider by name: "local", "s3", "azblob", "gcs", or
// "b2". An empty name or "none" returns (nil, nil) — archival disabled.
func New(ctx context.Context, name string, opts Options) (Provider, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "local":
		if opts.LocalPath == "" {
			return nil, fmt.Errorf("providers: local archive requires a local path")
		}
		return NewLocal(opts.LocalPath), nil
	case "s3":
		return NewS3(ctx, opts.Bucket, opts.Region, opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
	case "azblob":
		return NewAzureBlob(opts.AccountURL, opts.AccountName, opts.AccountKey, opts.Bucket)
	case "gcs":
		return NewGCS(ctx, opts.Bucket)
	case "b2":
		return NewB2(ctx, opts.AccountName, opts.ApplicationKey, opts.Bucket)
	default:
		return nil, fmt.Errorf("providers: unknown archive provider %q", name)
	}
}
