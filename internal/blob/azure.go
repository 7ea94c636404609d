package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// Store is the container surface the image sync needs. Tests use an
// in-memory implementation; production uses AzureStore.
type Store interface {
	Upload(ctx context.Context, container, name string, body io.Reader) error
	Delete(ctx context.Context, container, name string) error
}

// AzureStore backs Store with an Azure Blob Storage account.
type AzureStore struct {
	client *azblob.Client
}

// ConnectAzure opens a blob service client from a connection string.
func ConnectAzure(connectionString string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("connect blob storage: %w", err)
	}
	logging.Info("Connected to Azure Blob Storage")
	return &AzureStore{client: client}, nil
}

// Upload streams a blob into the container, overwriting any existing
// blob with the same name.
func (s *AzureStore) Upload(ctx context.Context, container, name string, body io.Reader) error {
	_, err := s.client.UploadStream(ctx, container, name, body, nil)
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", name, err)
	}
	return nil
}

// Delete removes a blob. A blob that is already gone is not an error.
func (s *AzureStore) Delete(ctx context.Context, container, name string) error {
	_, err := s.client.DeleteBlob(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}
