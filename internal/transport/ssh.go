package transport

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/iris-mcp/iris/internal/cache"
	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/teams"
)

// SSHTransport wraps the same contract as LocalTransport around a local
// ssh invocation, so the ssh client's stdio carries the remote child's
// stream-JSON (spec §4.2, §6 "SSH wrapping").
type SSHTransport struct {
	*process
	target       teams.SSHTarget
	irisHTTPPort int
	grace        time.Duration
}

// NewSSH constructs an SSHTransport targeting target. irisHTTPPort is used
// to build the optional reverse tunnel (-R reverseMcpPort:localhost:irisHttpPort).
func NewSSH(log *logger.Logger, target teams.SSHTarget, irisHTTPPort int, grace time.Duration) *SSHTransport {
	return &SSHTransport{process: newProcess(log), target: target, irisHTTPPort: irisHTTPPort, grace: grace}
}

// shellEscape single-quotes s, per spec §6: embedded single quotes become
// '\''.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildRemoteCommand renders "cd <path> && <executable> <args…>" as one
// shell-escaped string for ssh's final positional argument.
func buildRemoteCommand(workDir, executable string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellEscape(executable))
	for _, a := range args {
		parts = append(parts, shellEscape(a))
	}
	return fmt.Sprintf("cd %s && %s", shellEscape(workDir), strings.Join(parts, " "))
}

// buildSSHArgs assembles the ssh argv per spec §6.
func (t *SSHTransport) buildSSHArgs(cmd CommandInfo) []string {
	args := []string{
		"-T",
		"-o", "ServerAliveInterval=30",
		"-o", "ServerAliveCountMax=3",
		"-o", "BatchMode=yes",
	}

	if t.target.IdentityFile != "" {
		args = append(args, "-i", t.target.IdentityFile)
	}
	if t.target.Port != 0 {
		args = append(args, "-p", strconv.Itoa(t.target.Port))
	}
	if t.target.Compression {
		args = append(args, "-C")
	}
	if t.target.ForwardAgent {
		args = append(args, "-A")
	}
	if t.target.ReverseMCPPort != 0 && t.irisHTTPPort != 0 {
		args = append(args, "-R", fmt.Sprintf("%d:localhost:%d", t.target.ReverseMCPPort, t.irisHTTPPort))
	}
	args = append(args, t.target.ExtraArgs...)

	host := t.target.Host
	if t.target.User != "" {
		host = t.target.User + "@" + host
	}
	args = append(args, host)

	args = append(args, buildRemoteCommand(cmd.WorkDir, cmd.Executable, cmd.Args))
	return args
}

func (t *SSHTransport) Spawn(ctx context.Context, spawnEntry *cache.Entry, cmd CommandInfo, spawnTimeout time.Duration) error {
	execCmd := exec.Command("ssh", t.buildSSHArgs(cmd)...)

	t.publishStatus(StatusSpawning)
	if err := t.start(execCmd, spawnEntry); err != nil {
		return err
	}
	if err := t.writeUserFrame(spawnEntry.TellString + "\n"); err != nil {
		return err
	}
	return t.spawnWait(ctx, spawnTimeout)
}

func (t *SSHTransport) ExecuteTell(entry *cache.Entry) error { return t.executeTell(entry) }

func (t *SSHTransport) Terminate(ctx context.Context) error { return t.terminate(ctx, t.grace) }

func (t *SSHTransport) Cancel() error { return t.cancel() }
