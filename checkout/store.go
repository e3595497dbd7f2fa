package checkout

import (
	"context"
	"fmt"
	"time"
)

// Store is the session cache consumed by the manager and the materializer.
// Satisfied by cache.SessionStore.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Session keys are owner-scoped so a dedup scan only touches one owner's
// live sessions.
func sessionKey(ownerID int, sessionID string) string {
	return fmt.Sprintf("checkout:session:%d:%s", ownerID, sessionID)
}

func ownerPrefix(ownerID int) string {
	return fmt.Sprintf("checkout:session:%d:", ownerID)
}
