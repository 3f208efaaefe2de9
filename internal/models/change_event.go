package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChangeEvent represents an entity-change notification delivered by the CRM
// platform: who changed what, which record, and the attribute values involved.
type ChangeEvent struct {
	UserID      uuid.UUID              `json:"user_id"`
	MessageName string                 `json:"message_name"` // Create, Update, Delete
	LogicalName string                 `json:"logical_name"`
	ID          uuid.UUID              `json:"id"`
	Attributes  map[string]interface{} `json:"attributes"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// QueueMessage is the projection enqueued by the queue forwarder. Field names
// are part of the deployed message contract.
type QueueMessage struct {
	UserID      uuid.UUID              `json:"UserId"`
	MessageName string                 `json:"MessageName"`
	LogicalName string                 `json:"LogicalName"`
	ID          uuid.UUID              `json:"Id"`
	Attributes  map[string]interface{} `json:"Attributes"`
}

// BlobMessage is the projection uploaded by the blob forwarder. It carries the
// initiating user's display name in addition to the queue fields.
type BlobMessage struct {
	UserID       uuid.UUID              `json:"UserId"`
	MessageName  string                 `json:"MessageName"`
	LogicalName  string                 `json:"LogicalName"`
	ID           uuid.UUID              `json:"Id"`
	Attributes   map[string]interface{} `json:"Attributes"`
	UserFullName string                 `json:"UserFullName"`
}

// NewQueueMessage projects a change event into the queue contract.
func NewQueueMessage(event *ChangeEvent) QueueMessage {
	return QueueMessage{
		UserID:      event.UserID,
		MessageName: event.MessageName,
		LogicalName: event.LogicalName,
		ID:          event.ID,
		Attributes:  event.Attributes,
	}
}

// NewBlobMessage projects a change event into the blob contract.
func NewBlobMessage(event *ChangeEvent, userFullName string) BlobMessage {
	return BlobMessage{
		UserID:       event.UserID,
		MessageName:  event.MessageName,
		LogicalName:  event.LogicalName,
		ID:           event.ID,
		Attributes:   event.Attributes,
		UserFullName: userFullName,
	}
}

// BlobName returns the destination key for a record: the entity logical name
// as the virtual folder, the record id as 32 uppercase hex digits. The key is
// a pure function of the record, so redelivery overwrites the same object.
func (e *ChangeEvent) BlobName() string {
	return fmt.Sprintf("%s/%X.json", e.LogicalName, e.ID[:])
}
