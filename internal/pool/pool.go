// Package pool implements the ProcessPool (spec §4.4): a bounded map of
// live Transports keyed by "{fromTeam}→{toTeam}", LRU eviction of idle
// transports, and per-key serialized spawning via singleflight.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/ierrors"
	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/teams"
	"github.com/iris-mcp/iris/internal/transport"
	"go.uber.org/zap"
)

// entry is the pool's bookkeeping for one live Transport.
type entry struct {
	key       string
	sessionID string
	transport transport.Transport
	lruElem   *list.Element
}

// Pool is the ProcessPool (spec §4.4).
type Pool struct {
	log             *logger.Logger
	bus             eventbus.Bus
	maxProcesses    int
	spawnTimeout    time.Duration
	healthInterval  time.Duration
	irisHTTPPort    int
	terminateGrace  time.Duration
	agentExecutable string
	agentArgs       []string
	tracer          trace.Tracer

	mu      sync.Mutex
	byKey   map[string]*entry
	bySess  map[string]*entry
	lru     *list.List // front = most recently used

	sf singleflight.Group

	stopHealth chan struct{}
	wg         sync.WaitGroup
}

// Config bundles the pool's tunables (spec §4.4, config.PoolConfig).
type Config struct {
	MaxProcesses        int
	SpawnTimeout        time.Duration
	HealthCheckInterval time.Duration
	TerminateGrace      time.Duration
	IrisHTTPPort        int

	// AgentExecutable/AgentArgs describe the child process Iris launches
	// for every team (spec §6's "claude …"). Overridable for testing.
	AgentExecutable string
	AgentArgs       []string

	// Tracer wraps each spawn in a span (spec §4.11). Defaults to a no-op
	// tracer when unset.
	Tracer trace.Tracer
}

// New constructs an empty pool.
func New(cfg Config, bus eventbus.Bus, log *logger.Logger) *Pool {
	executable := cfg.AgentExecutable
	if executable == "" {
		executable = "claude"
	}
	args := cfg.AgentArgs
	if args == nil {
		args = []string{"--print", "--output-format", "stream-json"}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("iris/pool")
	}

	p := &Pool{
		log:             log,
		bus:             bus,
		maxProcesses:    cfg.MaxProcesses,
		spawnTimeout:    cfg.SpawnTimeout,
		healthInterval:  cfg.HealthCheckInterval,
		terminateGrace:  cfg.TerminateGrace,
		irisHTTPPort:    cfg.IrisHTTPPort,
		agentExecutable: executable,
		agentArgs:       args,
		tracer:          tracer,
		byKey:           make(map[string]*entry),
		bySess:          make(map[string]*entry),
		lru:             list.New(),
		stopHealth:      make(chan struct{}),
	}
	p.wg.Add(1)
	go p.healthCheckLoop()
	return p
}

// GetOrCreateProcess implements spec §4.4's 6-step contract.
func (p *Pool) GetOrCreateProcess(ctx context.Context, team teams.Team, fromTeam, sessionID string, messageCache *cache.MessageCache, pingText string) (transport.Transport, error) {
	key := teams.Key(fromTeam, team.Name)

	if tr := p.touch(key); tr != nil {
		return tr, nil
	}

	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		if tr := p.touch(key); tr != nil {
			return tr, nil
		}
		return p.spawn(ctx, key, team, sessionID, messageCache, pingText)
	})
	if err != nil {
		return nil, err
	}
	return v.(transport.Transport), nil
}

// touch returns the live Transport under key, bumping its LRU position.
func (p *Pool) touch(key string) transport.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byKey[key]
	if !ok {
		return nil
	}
	p.lru.MoveToFront(e.lruElem)
	return e.transport
}

func (p *Pool) spawn(ctx context.Context, key string, team teams.Team, sessionID string, messageCache *cache.MessageCache, pingText string) (transport.Transport, error) {
	ctx, span := p.tracer.Start(ctx, "pool.spawn", trace.WithAttributes(
		attribute.String("pool.key", key),
		attribute.String("team", team.Name),
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	if err := p.ensureCapacity(key); err != nil {
		return nil, err
	}

	spawnEntry := messageCache.CreateEntry(cache.EntrySpawn, pingText)

	var tr transport.Transport
	if team.IsRemote() {
		tr = transport.NewSSH(p.log, *team.Remote, p.irisHTTPPort, p.terminateGrace)
	} else {
		tr = transport.NewLocal(p.log, p.terminateGrace)
	}

	go p.mirrorEvents(key, tr)

	cmd := transport.CommandInfo{Executable: p.agentExecutable, Args: p.agentArgs, WorkDir: team.LocalPath}
	if err := tr.Spawn(ctx, spawnEntry, cmd, p.spawnTimeout); err != nil {
		spawnEntry.Terminate("SPAWN_FAILED")
		p.publish(eventbus.SubjectProcessError, key, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	p.mu.Lock()
	e := &entry{key: key, sessionID: sessionID, transport: tr}
	e.lruElem = p.lru.PushFront(key)
	p.byKey[key] = e
	p.bySess[sessionID] = e
	p.mu.Unlock()

	p.publish(eventbus.SubjectProcessSpawned, key, map[string]interface{}{"sessionId": sessionID})
	return tr, nil
}

// ensureCapacity evicts the LRU idle transport when the pool is full. If
// every slot is in flight, it fails with PoolFull (spec §4.4 step 2).
func (p *Pool) ensureCapacity(requestingKey string) error {
	p.mu.Lock()
	if len(p.byKey) < p.maxProcesses {
		p.mu.Unlock()
		return nil
	}

	var victim *entry
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		key := e.Value.(string)
		cand := p.byKey[key]
		if cand == nil || cand.key == requestingKey {
			continue
		}
		if cand.transport.Status() == transport.StatusReady {
			victim = cand
			break
		}
	}
	p.mu.Unlock()

	if victim == nil {
		return ierrors.PoolFull(requestingKey)
	}

	p.log.Info("evicting idle transport to make room", zap.String("key", victim.key))
	_ = victim.transport.Terminate(context.Background())
	p.remove(victim.key)
	p.publish(eventbus.SubjectProcessTerminated, victim.key, map[string]interface{}{"reason": "evicted"})
	return nil
}

func (p *Pool) remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byKey[key]
	if !ok {
		return
	}
	delete(p.byKey, key)
	delete(p.bySess, e.sessionID)
	p.lru.Remove(e.lruElem)
}

// GetProcess returns the Transport registered under key, if any.
func (p *Pool) GetProcess(key string) (transport.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byKey[key]
	if !ok {
		return nil, false
	}
	return e.transport, true
}

// GetProcessBySessionID returns the Transport owned by sessionID, if any.
func (p *Pool) GetProcessBySessionID(sessionID string) (transport.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.bySess[sessionID]
	if !ok {
		return nil, false
	}
	return e.transport, true
}

// TerminateProcess shuts down and deregisters the Transport under key.
func (p *Pool) TerminateProcess(ctx context.Context, key string) error {
	p.mu.Lock()
	e, ok := p.byKey[key]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	err := e.transport.Terminate(ctx)
	p.remove(key)
	p.publish(eventbus.SubjectProcessTerminated, key, map[string]interface{}{"reason": "requested"})
	return err
}

// TerminateAll shuts down every registered Transport in parallel (spec §5
// shutdown sequence).
func (p *Pool) TerminateAll(ctx context.Context) {
	p.mu.Lock()
	keys := make([]string, 0, len(p.byKey))
	for k := range p.byKey {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = p.TerminateProcess(ctx, key)
		}(k)
	}
	wg.Wait()

	close(p.stopHealth)
	p.wg.Wait()
}

// SendCommandToSession writes command as a raw tell to the transport
// owning sessionID, used by slash commands such as /compact (spec §4.4).
func (p *Pool) SendCommandToSession(sessionID string, command string, messageCache *cache.MessageCache) error {
	tr, ok := p.GetProcessBySessionID(sessionID)
	if !ok {
		return ierrors.InvalidState("no active transport for session %s", sessionID)
	}
	entry := messageCache.CreateEntry(cache.EntryTell, command)
	return tr.ExecuteTell(entry)
}

func (p *Pool) mirrorEvents(key string, tr transport.Transport) {
	for ev := range tr.ErrorStream() {
		p.publish(eventbus.SubjectProcessError, key, map[string]interface{}{"message": ev.Message})
	}
}

func (p *Pool) publish(subject, key string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["key"] = key
	if err := p.bus.Publish(context.Background(), subject, eventbus.NewEvent(subject, "pool", data)); err != nil {
		p.log.Warn("failed to publish pool event", zap.String("subject", subject), zap.Error(err))
	}
}

// healthCheckLoop periodically removes transports whose status went
// STOPPED without a matching TerminateProcess call (spec §4.4).
func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.sweepStopped()
		}
	}
}

func (p *Pool) sweepStopped() {
	p.mu.Lock()
	var dead []string
	for key, e := range p.byKey {
		if e.transport.Status() == transport.StatusStopped {
			dead = append(dead, key)
		}
	}
	p.mu.Unlock()

	for _, key := range dead {
		p.remove(key)
		p.publish(eventbus.SubjectProcessTerminated, key, map[string]interface{}{"reason": "health_check_detected_exit"})
	}
}

// Size reports the number of live transports (debug/metrics use).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byKey)
}
