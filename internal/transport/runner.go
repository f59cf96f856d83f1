package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/ierrors"
	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/pkg/protocol"
	"go.uber.org/zap"
)

// process is the shared frame-pump and lifecycle machinery both
// LocalTransport and SSHTransport embed; only how the *exec.Cmd is built
// differs between them (spec §4.2's "both fulfill the same contract").
type process struct {
	statusHolder

	log *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	launchCmd string

	mu              sync.Mutex
	inFlight        *cache.Entry
	spawnEntry      *cache.Entry
	awaitingInit    bool
	initDone        chan struct{}
	resultDone      chan struct{}
	startedAt       time.Time
	messagesCount   atomic.Int64
	lastResponseAt  atomic.Value // time.Time

	statusCh chan StatusEvent
	errorCh  chan ErrorEvent

	doneCh chan struct{}
	wg     sync.WaitGroup
}

func newProcess(log *logger.Logger) *process {
	p := &process{
		log:      log,
		statusCh: make(chan StatusEvent, 16),
		errorCh:  make(chan ErrorEvent, 16),
	}
	p.store(StatusStopped)
	return p
}

func (p *process) publishStatus(s Status) {
	p.store(s)
	select {
	case p.statusCh <- StatusEvent{Status: s, At: time.Now()}:
	default:
	}
}

func (p *process) publishError(msg string) {
	select {
	case p.errorCh <- ErrorEvent{Message: msg, At: time.Now()}:
	default:
	}
}

func (p *process) Status() Status                     { return p.load() }
func (p *process) StatusStream() <-chan StatusEvent    { return p.statusCh }
func (p *process) ErrorStream() <-chan ErrorEvent      { return p.errorCh }
func (p *process) IsReady() bool                       { return p.Status() == StatusReady }
func (p *process) IsBusy() bool                        { return p.Status() == StatusBusy }
func (p *process) MessagesProcessed() int64            { return p.messagesCount.Load() }
func (p *process) LaunchCommand() string               { return p.launchCmd }

func (p *process) LastResponseAt() time.Time {
	if v, ok := p.lastResponseAt.Load().(time.Time); ok {
		return v
	}
	return time.Time{}
}

func (p *process) Uptime() time.Duration {
	if p.startedAt.IsZero() {
		return 0
	}
	return time.Since(p.startedAt)
}

func (p *process) PID() int {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return -1
}

func (p *process) InFlightEntry() *cache.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// start launches cmd (already fully constructed by the caller) and begins
// the stdout/stderr pump goroutines. It does not wait for readiness; that
// is spawnWait's job.
func (p *process) start(cmd *exec.Cmd, spawnEntry *cache.Entry) error {
	p.cmd = cmd
	p.spawnEntry = spawnEntry
	p.inFlight = spawnEntry
	p.launchCmd = cmd.String()

	var err error
	p.stdin, err = cmd.StdinPipe()
	if err != nil {
		p.publishStatus(StatusError)
		return ierrors.Process(err, "failed to open stdin pipe")
	}
	p.stdout, err = cmd.StdoutPipe()
	if err != nil {
		p.publishStatus(StatusError)
		return ierrors.Process(err, "failed to open stdout pipe")
	}
	p.stderr, err = cmd.StderrPipe()
	if err != nil {
		p.publishStatus(StatusError)
		return ierrors.Process(err, "failed to open stderr pipe")
	}

	// Deliberately not CommandContext: a caller's request context must
	// never kill a long-lived child; Terminate() owns that decision.
	if err := cmd.Start(); err != nil {
		p.publishStatus(StatusError)
		return ierrors.Process(err, "failed to start child process")
	}

	p.startedAt = time.Now()
	p.initDone = make(chan struct{})
	p.resultDone = make(chan struct{})
	p.awaitingInit = true
	p.doneCh = make(chan struct{})

	p.wg.Add(3)
	go p.readStdout()
	go p.readStderr()
	go p.waitForExit()

	return nil
}

// spawnWait waits for the system/init handshake and the subsequent result
// frame before declaring READY (spec §4.2).
func (p *process) spawnWait(ctx context.Context, spawnTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, spawnTimeout)
	defer cancel()

	select {
	case <-p.initDone:
	case <-p.doneCh:
		p.publishStatus(StatusError)
		return ierrors.Process(nil, "child exited before system/init")
	case <-ctx.Done():
		p.publishStatus(StatusError)
		return ierrors.Timeout("timed out waiting for system/init handshake")
	}

	select {
	case <-p.resultDone:
	case <-p.doneCh:
		p.publishStatus(StatusError)
		return ierrors.Process(nil, "child exited before spawn result frame")
	case <-ctx.Done():
		p.publishStatus(StatusError)
		return ierrors.Timeout("timed out waiting for spawn result frame")
	}

	p.mu.Lock()
	p.inFlight = nil
	p.mu.Unlock()
	p.publishStatus(StatusReady)
	return nil
}

// writeUserFrame writes text as a stream-JSON user frame followed by \n.
func (p *process) writeUserFrame(text string) error {
	frame, err := protocol.NewUserFrame(text)
	if err != nil {
		return fmt.Errorf("encode user frame: %w", err)
	}
	frame = append(frame, '\n')
	_, err = p.stdin.Write(frame)
	return err
}

func (p *process) executeTell(entry *cache.Entry) error {
	if p.Status() != StatusReady {
		return ierrors.InvalidState("executeTell called while transport is %s, want READY", p.Status())
	}
	p.mu.Lock()
	if p.inFlight != nil {
		p.mu.Unlock()
		return ierrors.InvalidState("executeTell called with an entry already in flight")
	}
	p.inFlight = entry
	p.resultDone = make(chan struct{})
	p.mu.Unlock()

	p.publishStatus(StatusBusy)
	if err := p.writeUserFrame(entry.TellString + "\n"); err != nil {
		p.mu.Lock()
		p.inFlight = nil
		p.mu.Unlock()
		p.publishStatus(StatusReady)
		return ierrors.Process(err, "failed to write tell frame")
	}
	return nil
}

func (p *process) terminate(ctx context.Context, grace time.Duration) error {
	if p.Status() == StatusStopped || p.Status() == StatusTerminating {
		return nil
	}
	p.publishStatus(StatusTerminating)

	if p.stdin != nil {
		_ = p.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		if p.cmd != nil && p.cmd.Process != nil {
			p.log.Warn("force killing child after grace period", zap.Int("pid", p.cmd.Process.Pid))
			_ = p.cmd.Process.Kill()
		}
		<-done
	case <-ctx.Done():
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-done
	}

	p.mu.Lock()
	p.inFlight = nil
	p.mu.Unlock()
	p.publishStatus(StatusStopped)
	return nil
}

func (p *process) cancel() error {
	p.mu.Lock()
	p.inFlight = nil
	p.mu.Unlock()
	if p.stdin == nil {
		return nil
	}
	_, err := p.stdin.Write([]byte{0x1B})
	return err
}

// readStdout concatenates stdout chunks into lines and parses each
// complete line as a frame (spec §4.2 "Frame handling").
func (p *process) readStdout() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := protocol.ParseFrame(line)
		if err != nil {
			p.log.Debug("discarding non-JSON child output line", zap.ByteString("line", line))
			continue
		}

		p.mu.Lock()
		entry := p.inFlight
		awaitingInit := p.awaitingInit
		p.mu.Unlock()

		if entry != nil {
			if err := entry.Append(frame); err != nil {
				p.log.Warn("failed to append frame to cache entry", zap.Error(err))
			}
		}

		if awaitingInit && frame.IsSystemInit() {
			p.mu.Lock()
			p.awaitingInit = false
			p.mu.Unlock()
			close(p.initDone)
		}

		if frame.IsResult() {
			p.messagesCount.Add(1)
			p.lastResponseAt.Store(time.Now())

			p.mu.Lock()
			resultDone := p.resultDone
			wasSpawn := entry == p.spawnEntry
			if !wasSpawn {
				p.inFlight = nil
			}
			p.mu.Unlock()

			if resultDone != nil {
				select {
				case <-resultDone:
				default:
					close(resultDone)
				}
			}
			if !wasSpawn {
				p.publishStatus(StatusReady)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		p.log.Debug("stdout reader stopped", zap.Error(err))
	}
}

func (p *process) readStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.log.Debug("child stderr", zap.String("line", line))
		if msg := matchStderrPattern(line); msg != "" {
			p.publishError(msg)
		}
	}
}

var stderrPatterns = []string{
	"Permission denied",
	"Authentication failed",
	"Connection refused",
	"Connection timed out",
}

func matchStderrPattern(line string) string {
	for _, pattern := range stderrPatterns {
		if strings.Contains(line, pattern) {
			return pattern
		}
	}
	return ""
}

func (p *process) waitForExit() {
	defer p.wg.Done()
	defer close(p.doneCh)

	err := p.cmd.Wait()
	if err != nil {
		p.log.Info("child process exited with error", zap.Error(err))
	} else {
		p.log.Info("child process exited")
	}

	p.mu.Lock()
	if p.awaitingInit {
		p.awaitingInit = false
		close(p.initDone)
	}
	p.mu.Unlock()

	if p.Status() != StatusTerminating {
		p.publishStatus(StatusStopped)
	}
}
