// Package providers implements session archive storage backends
// (spec.md §4.9 "Archival"): a finished session's WAV/MP3 files can be
// copied to a local directory or uploaded to a cloud object store.
//
// Grounded on the teacher's internal/backup/providers package: the
// Provider interface below is the teacher's BackupProvider shape
// unchanged, and the Local provider is adapted near-verbatim from its
// LocalProvider. The teacher's S3Provider was a stub ("not
// implemented"); here it is a real implementation against
// aws-sdk-go-v2, and Azure Blob / GCS / B2 providers are added in the
// same shape using the corresponding ecosystem SDKs.
package providers

import "context"

// Provider defines the interface for archive storage backends. A
// session's archival files are uploaded with Upload once recording and
// any MP3 encode have completed.
type Provider interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, remotePath string) error
}
