package artifact

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/mozfx/coldstart/internal/logging"
)

var azlog = logging.L("artifact.azure")

// AzureBlobProvider fetches a build archive from an Azure Blob Storage
// container, exercising an SDK dependency the teacher's go.mod declared
// but never imported.
type AzureBlobProvider struct {
	client        *azblob.Client
	containerName string
}

// NewAzureBlobProvider builds an AzureBlobProvider from a full container
// URL, optionally carrying a SAS token query string:
// https://<account>.blob.core.windows.net/<container>?<sas>.
func NewAzureBlobProvider(containerURL string) (*AzureBlobProvider, error) {
	if containerURL == "" {
		return nil, fmt.Errorf("artifact: azure container URL is required")
	}

	parsed, err := url.Parse(containerURL)
	if err != nil {
		return nil, fmt.Errorf("artifact: parse azure container url: %w", err)
	}

	parts := strings.SplitN(strings.TrimPrefix(parsed.Path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("artifact: azure container URL %q has no container name", containerURL)
	}
	containerName := parts[0]

	accountURL := url.URL{
		Scheme:   parsed.Scheme,
		Host:     parsed.Host,
		RawQuery: parsed.RawQuery,
	}

	client, err := azblob.NewClientWithNoCredential(accountURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: create azure client: %w", err)
	}

	return &AzureBlobProvider{client: client, containerName: containerName}, nil
}

// FetchBuild downloads <container>/<taskID>.zip into dir.
func (p *AzureBlobProvider) FetchBuild(ctx context.Context, taskID, dir string) (string, error) {
	blobName := taskID + ".zip"
	destPath := filepath.Join(dir, blobName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("artifact: create %s: %w", destPath, err)
	}
	defer dest.Close()

	azlog.Info("downloading build", "container", p.containerName, "blob", blobName)

	if _, err := p.client.DownloadFile(ctx, p.containerName, blobName, dest, nil); err != nil {
		return "", fmt.Errorf("artifact: download azure blob %s/%s: %w", p.containerName, blobName, err)
	}

	return destPath, nil
}
