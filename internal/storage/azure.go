package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"wopihost/internal/config"
)

// azureStorage implements Storage on Azure Blob Storage. All documents share
// one blob container; the per-owner container name becomes a blob prefix.
type azureStorage struct {
	client    *azblob.Client
	endpoint  string
	container string
}

// NewAzure creates an Azure Blob client and makes sure the container exists.
func NewAzure(cfg config.AzureConfig) (Storage, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure: account key is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure: build credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil && !isContainerExists(err) {
		return nil, fmt.Errorf("azure: create container: %w", err)
	}

	return &azureStorage{client: client, endpoint: strings.TrimRight(endpoint, "/"), container: cfg.Container}, nil
}

func (a *azureStorage) Upload(ctx context.Context, id, container string, data []byte) (string, error) {
	name := ObjectKey(id, container)
	if _, err := a.client.UploadBuffer(ctx, a.container, name, data, nil); err != nil {
		return "", fmt.Errorf("azure: upload %s: %w", name, err)
	}
	return fmt.Sprintf("%s/%s/%s", a.endpoint, a.container, name), nil
}

func (a *azureStorage) Read(ctx context.Context, id, container string) ([]byte, error) {
	name := ObjectKey(id, container)
	resp, err := a.client.DownloadStream(ctx, a.container, name, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("azure: download %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read %s: %w", name, err)
	}
	return data, nil
}

func (a *azureStorage) Delete(ctx context.Context, id, container string) (bool, error) {
	name := ObjectKey(id, container)
	if _, err := a.client.DeleteBlob(ctx, a.container, name, nil); err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("azure: delete %s: %w", name, err)
	}
	return true, nil
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
