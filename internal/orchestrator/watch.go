package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
	"github.com/iris-mcp/iris/pkg/protocol"
)

// tellWatch is the response-timeout timer and completion tracker bound to
// one in-flight tell entry (spec §4.5 step 8, "Response-timeout handler").
type tellWatch struct {
	done chan struct{}
	stop chan struct{}

	mu         sync.Mutex
	terminated bool
	reason     string
}

func (w *tellWatch) result(entry *cache.Entry) *SendResult {
	w.mu.Lock()
	terminated, reason := w.terminated, w.reason
	w.mu.Unlock()

	if terminated {
		return &SendResult{
			Status:          StatusTerminated,
			Reason:          reason,
			Message:         "the transport was terminated while this tell was in flight",
			PartialResponse: entry.AssistantText(),
		}
	}
	return &SendResult{Text: entry.AssistantText()}
}

// cancel is used on the synchronous-error unwind path (spec §4.5 step 9):
// the watch never really started delivering, so tear it down immediately
// instead of leaving its goroutine parked until responseTimeout.
func (w *tellWatch) cancel() {
	close(w.stop)
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

// watchTell subscribes to entry's message stream, resets a responseTimeout
// timer on every frame, and on stall terminates the owning transport while
// preserving the cache (spec §4.5's "Response-timeout handler"). On a
// result frame it completes the entry one tick later so every subscriber
// observes it first (spec §9).
func (o *Orchestrator) watchTell(sessionID string, team teams.Team, fromTeam string, entry *cache.Entry) *tellWatch {
	w := &tellWatch{done: make(chan struct{}), stop: make(chan struct{})}
	sub := entry.Subscribe()

	timer := time.NewTimer(o.timeouts.ResponseTimeout)

	go func() {
		defer sub.Unsubscribe()
		defer timer.Stop()

		for {
			select {
			case <-w.stop:
				return

			case msg, ok := <-sub.Stream:
				if !ok {
					o.finishWatch(w, false, "")
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(o.timeouts.ResponseTimeout)

				if msg.Type == protocol.FrameResult {
					// Deferred-by-one-tick completion (spec §9): let every
					// subscriber observe the result frame before Complete()
					// flips the entry's status and closes subscriptions.
					runtime.Gosched()
					entry.Complete()
					_ = o.store.UpdateProcessState(context.Background(), sessionID, session.StateIdle)
					_ = o.store.SetCurrentCacheEntry(context.Background(), sessionID, nil)
					_ = o.store.UpdateLastResponse(context.Background(), sessionID)
					o.finishWatch(w, false, "")
					return
				}

			case <-timer.C:
				entry.Terminate("RESPONSE_TIMEOUT")
				_ = o.pool.TerminateProcess(context.Background(), teams.Key(fromTeam, team.Name))
				_ = o.store.UpdateProcessState(context.Background(), sessionID, session.StateStopped)
				_ = o.store.SetCurrentCacheEntry(context.Background(), sessionID, nil)
				o.finishWatch(w, true, "RESPONSE_TIMEOUT")
				return
			}
		}
	}()

	return w
}

func (o *Orchestrator) finishWatch(w *tellWatch, terminated bool, reason string) {
	w.mu.Lock()
	w.terminated = terminated
	w.reason = reason
	w.mu.Unlock()
	close(w.done)
}
