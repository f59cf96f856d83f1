package cache

import (
	"sync"

	"github.com/iris-mcp/iris/internal/common/ierrors"
)

// Stats summarizes a MessageCache's entries (spec §4.3).
type Stats struct {
	Total     int `json:"total"`
	Spawn     int `json:"spawn"`
	Tell      int `json:"tell"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// MessageCache is the per-session ordered sequence of CacheEntries (spec
// §3, §4.3). It persists for the lifetime of the session and survives
// Transport replacement; a session respawning after a response timeout
// reuses the same MessageCache.
type MessageCache struct {
	SessionID string

	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
}

// New creates an empty MessageCache for sessionID.
func New(sessionID string) *MessageCache {
	return &MessageCache{
		SessionID: sessionID,
		byID:      make(map[string]*Entry),
	}
}

// CreateEntry appends and returns a new entry of the given type.
func (c *MessageCache) CreateEntry(entryType EntryType, tellString string) *Entry {
	e := newEntry(entryType, tellString)
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.byID[e.ID] = e
	c.mu.Unlock()
	return e
}

// GetAllEntries returns every entry in creation order.
func (c *MessageCache) GetAllEntries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// GetEntryByID looks up an entry; when id is unknown it returns a nil entry
// and a ValidationError.
func (c *MessageCache) GetEntryByID(id string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return nil, ierrors.Validation("no cache entry %s in session %s", id, c.SessionID)
	}
	return e, nil
}

// GetStats computes the aggregate counters spec §4.4 exposes for debug.
func (c *MessageCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Stats
	s.Total = len(c.entries)
	for _, e := range c.entries {
		switch e.Type {
		case EntrySpawn:
			s.Spawn++
		case EntryTell:
			s.Tell++
		}
		switch e.Status() {
		case StatusActive:
			s.Active++
		case StatusCompleted:
			s.Completed++
		}
	}
	return s
}

// GetRecentMessages returns the most recent n messages across all entries,
// flattened in entry-then-arrival order.
func (c *MessageCache) GetRecentMessages(n int) []Message {
	c.mu.RLock()
	entries := make([]*Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	var all []Message
	for _, e := range entries {
		all = append(all, e.Snapshot()...)
	}
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// ExportFormat selects exportMessages' serialization (spec §4.3).
type ExportFormat string

const (
	ExportJSONLines ExportFormat = "jsonl"
	ExportText      ExportFormat = "text"
)

// ExportMessages renders every message across all entries in the requested
// format.
func (c *MessageCache) ExportMessages(format ExportFormat) ([]byte, error) {
	c.mu.RLock()
	entries := make([]*Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	var out []byte
	for _, e := range entries {
		for _, m := range e.Snapshot() {
			switch format {
			case ExportText:
				out = append(out, m.Raw...)
				out = append(out, '\n')
			default:
				out = append(out, m.Raw...)
				out = append(out, '\n')
			}
		}
	}
	return out, nil
}
