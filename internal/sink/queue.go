package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"crm-forwarder/internal/config"
)

// QueueSink enqueues forwarded messages onto a fixed storage queue. Unlike
// the blob sink there is no natural key: every write appends a new message.
type QueueSink struct {
	queue *azqueue.QueueClient
}

// NewQueueSink builds a client for the account's queue endpoint.
func NewQueueSink(settings config.StorageSettings) (*QueueSink, error) {
	cred, err := azqueue.NewSharedKeyCredential(settings.AccountName, settings.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to build queue credential: %w", err)
	}

	service, err := azqueue.NewServiceClientWithSharedKeyCredential(QueueServiceURL(settings.AccountName), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}

	return &QueueSink{
		queue: service.NewQueueClient(QueueName),
	}, nil
}

// EnsureReady creates the queue if absent. The service answers 204 for a
// same-metadata re-create, so the conflict branch only fires on a metadata
// mismatch.
func (s *QueueSink) EnsureReady(ctx context.Context) error {
	_, err := s.queue.Create(ctx, nil)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create queue %s: %w", QueueName, err)
	}
	return nil
}

// Write enqueues the body as one message. Key and metadata are unused; the
// queue has no per-message addressing.
func (s *QueueSink) Write(ctx context.Context, _ string, body []byte, _ map[string]string) error {
	if _, err := s.queue.EnqueueMessage(ctx, string(body), nil); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}
