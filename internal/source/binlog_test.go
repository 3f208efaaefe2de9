package source

import (
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageNameFor(t *testing.T) {
	tests := []struct {
		eventType replication.EventType
		want      string
	}{
		{replication.WRITE_ROWS_EVENTv2, "Create"},
		{replication.WRITE_ROWS_EVENTv1, "Create"},
		{replication.UPDATE_ROWS_EVENTv2, "Update"},
		{replication.DELETE_ROWS_EVENTv2, "Delete"},
		{replication.TABLE_MAP_EVENT, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, messageNameFor(tt.eventType))
	}
}

func TestRecordIDFromUUIDColumn(t *testing.T) {
	want := uuid.MustParse("3fa85f64-5717-4562-b3fc-2c963f66afa6")
	attrs := map[string]interface{}{"id": want.String(), "name": "Jane"}

	assert.Equal(t, want, recordID("crm", "contact", attrs))
}

func TestRecordIDEntityScopedColumn(t *testing.T) {
	want := uuid.MustParse("3fa85f64-5717-4562-b3fc-2c963f66afa6")
	attrs := map[string]interface{}{"contactid": want.String()}

	assert.Equal(t, want, recordID("crm", "contact", attrs))
}

func TestRecordIDDeterministicForNonUUIDKeys(t *testing.T) {
	attrs := map[string]interface{}{"id": int64(42)}

	first := recordID("crm", "contact", attrs)
	second := recordID("crm", "contact", attrs)
	assert.Equal(t, first, second)

	// Same key in another table addresses a different record
	other := recordID("crm", "account", attrs)
	assert.NotEqual(t, first, other)
}

func TestUserIDFrom(t *testing.T) {
	want := uuid.MustParse("8d3bfc2a-6f4e-4d0a-9d3e-0c4a9e2f1b57")
	attrs := map[string]interface{}{"modifiedby": want.String()}

	assert.Equal(t, want, userIDFrom(attrs, "modifiedby"))
	assert.Equal(t, uuid.Nil, userIDFrom(attrs, ""))
	assert.Equal(t, uuid.Nil, userIDFrom(attrs, "createdby"))
	assert.Equal(t, uuid.Nil, userIDFrom(map[string]interface{}{"modifiedby": "not-a-uuid"}, "modifiedby"))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "Jane", normalizeValue([]byte("Jane")))
	assert.Equal(t, int64(7), normalizeValue(int64(7)))
	assert.Nil(t, normalizeValue(nil))
}

func TestBuildEvent(t *testing.T) {
	s := &BinlogSource{userColumn: "modifiedby"}

	recordUUID := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	userUUID := "8d3bfc2a-6f4e-4d0a-9d3e-0c4a9e2f1b57"
	occurredAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{"id", "name", "modifiedby"}
	row := []interface{}{[]byte(recordUUID), []byte("Jane"), []byte(userUUID)}

	event := s.buildEvent("crm", "contact", "Delete", columns, row, occurredAt)

	assert.Equal(t, "contact", event.LogicalName)
	assert.Equal(t, "Delete", event.MessageName)
	assert.Equal(t, uuid.MustParse(recordUUID), event.ID)
	assert.Equal(t, uuid.MustParse(userUUID), event.UserID)
	assert.Equal(t, occurredAt, event.OccurredAt)
	require.Contains(t, event.Attributes, "name")
	assert.Equal(t, "Jane", event.Attributes["name"])
}
