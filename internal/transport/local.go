package transport

import (
	"context"
	"os/exec"
	"time"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/logger"
)

// LocalTransport spawns a child via argv with piped stdio (spec §4.2),
// grounded on the teacher's agentctl process.Manager.
type LocalTransport struct {
	*process
	grace time.Duration
}

// NewLocal constructs a LocalTransport. grace bounds how long Terminate
// waits for a graceful exit before force-killing.
func NewLocal(log *logger.Logger, grace time.Duration) *LocalTransport {
	return &LocalTransport{process: newProcess(log), grace: grace}
}

func (t *LocalTransport) Spawn(ctx context.Context, spawnEntry *cache.Entry, cmd CommandInfo, spawnTimeout time.Duration) error {
	execCmd := exec.Command(cmd.Executable, cmd.Args...)
	execCmd.Dir = cmd.WorkDir

	t.publishStatus(StatusSpawning)
	if err := t.start(execCmd, spawnEntry); err != nil {
		return err
	}
	if err := t.writeUserFrame(spawnEntry.TellString + "\n"); err != nil {
		return err
	}
	return t.spawnWait(ctx, spawnTimeout)
}

func (t *LocalTransport) ExecuteTell(entry *cache.Entry) error { return t.executeTell(entry) }

func (t *LocalTransport) Terminate(ctx context.Context) error { return t.terminate(ctx, t.grace) }

func (t *LocalTransport) Cancel() error { return t.cancel() }
