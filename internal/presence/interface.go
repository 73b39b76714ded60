package presence

import "context"

// Presence tracks which wallets are online in which room, for the REST
// surface and other platform services. Best effort: failures are logged,
// never surfaced to the chat path.
type Presence interface {
	Join(ctx context.Context, roomID, wallet string) error
	Leave(ctx context.Context, roomID, wallet string) error
	Online(ctx context.Context, roomID string) ([]string, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
