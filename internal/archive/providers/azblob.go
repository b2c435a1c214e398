package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBlob archives sessions to an Azure Blob Storage container.
type AzureBlob struct {
	Container string

	client *azblob.Client
}

// NewAzureBlob builds an AzureBlob provider against accountURL (e.g.
// "https://<account>.blob.core.windows.net") using a shared key.
func NewAzureBlob(accountURL, accountName, accountKey, containerName string) (*AzureBlob, error) {
	if accountURL == "" || containerName == "" {
		return nil, errors.New("azure blob account URL and container are required")
	}

	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azblob: shared key credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azblob: new client: %w", err)
	}
	return &AzureBlob{Container: containerName, client: client}, nil
}

// Upload streams localPath to the container at remotePath.
func (p *AzureBlob) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("azblob: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = p.client.UploadFile(ctx, p.Container, remotePath, f, nil)
	if err != nil {
		return fmt.Errorf("azblob: upload %s: %w", remotePath, err)
	}
	return nil
}

// Download streams remotePath from the container into localPath.
func (p *AzureBlob) Download(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("azblob: create %s: %w", localPath, err)
	}
	defer f.Close()

	resp, err := p.client.DownloadStream(ctx, p.Container, remotePath, nil)
	if err != nil {
		return fmt.Errorf("azblob: download %s: %w", remotePath, err)
	}
	body := resp.NewRetryReader(ctx, nil)
	defer body.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("azblob: write %s: %w", localPath, err)
	}
	return nil
}

// List enumerates blob names under prefix.
func (p *AzureBlob) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := p.client.NewListBlobsFlatPager(p.Container, &container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azblob: list %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Delete removes a blob from the container.
func (p *AzureBlob) Delete(ctx context.Context, remotePath string) error {
	_, err := p.client.DeleteBlob(ctx, p.Container, remotePath, nil)
	if err != nil && !strings.Contains(err.Error(), "BlobNotFound") {
		return fmt.Errorf("azblob: delete %s: %w", remotePath, err)
	}
	return nil
}
