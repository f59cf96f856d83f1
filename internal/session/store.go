package session

import "context"

// Store is the SessionStore contract (spec §4.1). Implementations must
// make getOrCreateSession race-safe: concurrent callers for the same
// (from,to) pair resolve to exactly one row.
type Store interface {
	GetOrCreateSession(ctx context.Context, from, to string) (*Session, error)
	GetSession(ctx context.Context, from, to string) (*Session, error)
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, filter Filter) ([]*Session, error)

	UpdateProcessState(ctx context.Context, id string, state ProcessState) error
	SetCurrentCacheEntry(ctx context.Context, id string, entryID *string) error
	RecordUsage(ctx context.Context, id string) error
	IncrementMessageCount(ctx context.Context, id string) error
	UpdateLastResponse(ctx context.Context, id string) error
	UpdateDebugInfo(ctx context.Context, id, launchCmd, configSnapshot string) error

	DeleteSession(ctx context.Context, id string, removeFiles bool) error

	Close() error
}
