package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crm-forwarder/internal/models"
	"crm-forwarder/internal/origin"
)

// MetadataShape selects the blob metadata key casing. Both shapes have been
// deployed as independent contracts; neither replaces the other.
type MetadataShape int

const (
	MetadataLower MetadataShape = iota // userid, userfullname, deletiondate
	MetadataPascal                     // UserId, UserFullName, DeletionDate
)

// ParseMetadataShape maps the configuration value to a shape. Empty selects
// the lower-case contract.
func ParseMetadataShape(s string) (MetadataShape, error) {
	switch strings.ToLower(s) {
	case "", "lower":
		return MetadataLower, nil
	case "pascal":
		return MetadataPascal, nil
	default:
		return MetadataLower, fmt.Errorf("unknown metadata_keys value %q", s)
	}
}

// BlobPayload builds the blob variant: key {logicalName}/{id-hex}.json, body
// with the resolved user display name, per-object metadata.
type BlobPayload struct {
	Users origin.UserResolver
	Shape MetadataShape
}

func (b *BlobPayload) Build(ctx context.Context, event *models.ChangeEvent) (string, []byte, map[string]string, error) {
	fullName, err := b.Users.FullName(ctx, event.UserID)
	if err != nil {
		// The origin system faulted; surface it as a plugin execution
		// error with the fixed message, not the raw fault.
		return "", nil, nil, &ExecutionError{Message: ExecutionFaultMessage, Err: err}
	}

	body, err := json.MarshalIndent(models.NewBlobMessage(event, fullName), "", "  ")
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	metadata := map[string]string{
		"userid":       fmt.Sprintf("{%s}", strings.ToLower(event.UserID.String())),
		"userfullname": fullName,
		"deletiondate": event.OccurredAt.Format(time.RFC3339Nano),
	}
	if b.Shape == MetadataPascal {
		metadata = map[string]string{
			"UserId":       fmt.Sprintf("{%s}", strings.ToLower(event.UserID.String())),
			"UserFullName": fullName,
			"DeletionDate": event.OccurredAt.Format(time.RFC3339Nano),
		}
	}

	return event.BlobName(), body, metadata, nil
}

// QueuePayload builds the queue variant: no key, no metadata, one message
// body per event.
type QueuePayload struct{}

func (q *QueuePayload) Build(_ context.Context, event *models.ChangeEvent) (string, []byte, map[string]string, error) {
	body, err := json.MarshalIndent(models.NewQueueMessage(event), "", "  ")
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return "", body, nil, nil
}
