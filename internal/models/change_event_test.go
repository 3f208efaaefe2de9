package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBlobName(t *testing.T) {
	event := &ChangeEvent{
		LogicalName: "contact",
		ID:          uuid.MustParse("3fa85f64-5717-4562-b3fc-2c963f66afa6"),
	}

	got := event.BlobName()
	want := "contact/3FA85F6457174562B3FC2C963F66AFA6.json"
	if got != want {
		t.Errorf("BlobName() = %q, want %q", got, want)
	}

	if strings.Contains(got, "-") {
		t.Errorf("BlobName() should not contain hyphens: %q", got)
	}
	if got != event.BlobName() {
		t.Error("BlobName() should be deterministic for the same record")
	}
}

func TestQueueMessageContract(t *testing.T) {
	event := &ChangeEvent{
		UserID:      uuid.MustParse("8d3bfc2a-6f4e-4d0a-9d3e-0c4a9e2f1b57"),
		MessageName: "Delete",
		LogicalName: "contact",
		ID:          uuid.MustParse("3fa85f64-5717-4562-b3fc-2c963f66afa6"),
		Attributes:  map[string]interface{}{"name": "Jane"},
		OccurredAt:  time.Now(),
	}

	data, err := json.Marshal(NewQueueMessage(event))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, field := range []string{"UserId", "MessageName", "LogicalName", "Id", "Attributes"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("queue message missing field %q", field)
		}
	}
	if _, ok := decoded["UserFullName"]; ok {
		t.Error("queue message should not carry UserFullName")
	}
}

func TestBlobMessageCarriesUserFullName(t *testing.T) {
	event := &ChangeEvent{
		UserID:      uuid.New(),
		MessageName: "Delete",
		LogicalName: "contact",
		ID:          uuid.New(),
		Attributes:  map[string]interface{}{"name": "Jane"},
	}

	data, err := json.Marshal(NewBlobMessage(event, "Jane Doe"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["UserFullName"] != "Jane Doe" {
		t.Errorf("UserFullName = %v, want Jane Doe", decoded["UserFullName"])
	}
}
