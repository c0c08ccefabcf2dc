package repository

import "context"

type BlockRepository interface {
	// IsBlocked reports whether blockerID has blocked blockedID, in that
	// direction only. Callers check both directions before creating a
	// conversation or sending.
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
}
