package sink

import (
	"context"
	"fmt"
	"strings"
)

// Fixed destination names; part of the deployed storage contract.
const (
	ContainerName = "samplecrmfolder"
	QueueName     = "samplecrmqueue"
)

// Sink is the write capability a forwarder needs from its destination:
// make sure the destination exists, then write one payload to it.
type Sink interface {
	// EnsureReady creates the container or queue if it does not exist yet.
	// Safe to call on every invocation.
	EnsureReady(ctx context.Context) error

	// Write stores one serialized message. Metadata is ignored by sinks
	// that have no per-object metadata.
	Write(ctx context.Context, key string, body []byte, metadata map[string]string) error
}

// BlobServiceURL derives the blob endpoint for a storage account.
func BlobServiceURL(accountName string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", strings.ToLower(accountName))
}

// QueueServiceURL derives the queue endpoint for a storage account.
func QueueServiceURL(accountName string) string {
	return fmt.Sprintf("https://%s.queue.core.windows.net/", strings.ToLower(accountName))
}
