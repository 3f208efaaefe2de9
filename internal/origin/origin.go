package origin

import (
	"context"

	"github.com/google/uuid"
)

// UserResolver looks up the display name of the user who initiated a change.
// Only the blob forwarder needs it; the queue payload carries no name.
type UserResolver interface {
	FullName(ctx context.Context, id uuid.UUID) (string, error)
}
