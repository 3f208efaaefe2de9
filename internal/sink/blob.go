package sink

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"crm-forwarder/internal/config"
)

// BlobSink writes forwarded messages as JSON blobs into a fixed container.
type BlobSink struct {
	client    *azblob.Client
	container string
}

// NewBlobSink builds a client for the account's blob endpoint. Credential
// validation (key shape, base64) happens here, before any network call.
func NewBlobSink(settings config.StorageSettings) (*BlobSink, error) {
	cred, err := azblob.NewSharedKeyCredential(settings.AccountName, settings.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(BlobServiceURL(settings.AccountName), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobSink{
		client:    client,
		container: ContainerName,
	}, nil
}

// EnsureReady creates the container if absent.
func (s *BlobSink) EnsureReady(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", s.container, err)
	}
	return nil
}

// Write uploads the body under key with content type application/json and the
// given object metadata. Uploading an existing key overwrites it.
func (s *BlobSink) Write(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	md := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		md[k] = to.Ptr(v)
	}

	_, err := s.client.UploadBuffer(ctx, s.container, key, body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
		Metadata: md,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}
