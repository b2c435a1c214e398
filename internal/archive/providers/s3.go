package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 archives sessions to an S3-compatible bucket, using the SDK's
// managed uploader/downloader so large WAV files are transferred in
// concurrent parts rather than read fully into memory.
type S3 struct {
	Bucket string

	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3 builds an S3 provider for bucket in region. Static credentials
// are optional; when empty the SDK falls back to its default chain
// (environment, shared config, instance role).
func NewS3(ctx context.Context, bucket, region, accessKeyID, secretAccessKey, sessionToken string) (*S3, error) {
	if bucket == "" || region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3{
		Bucket:     bucket,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

// Upload streams localPath to the bucket at remotePath.
func (p *S3) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(remotePath),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("s3: upload %s: %w", remotePath, err)
	}
	return nil
}

// Download streams remotePath from the bucket into localPath.
func (p *S3) Download(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("s3: create %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = p.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("s3: download %s: %w", remotePath, err)
	}
	return nil
}

// List enumerates object keys under prefix.
func (p *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes an object from the bucket.
func (p *S3) Delete(ctx context.Context, remotePath string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", remotePath, err)
	}
	return nil
}
