package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/teams"
)

func TestSSHTransport_BuildSSHArgs(t *testing.T) {
	target := teams.SSHTarget{
		Host:           "build-box",
		User:           "ci",
		Port:           2222,
		IdentityFile:   "/keys/id_ed25519",
		Compression:    true,
		ForwardAgent:   true,
		ExtraArgs:      []string{"-o", "StrictHostKeyChecking=no"},
		ReverseMCPPort: 9000,
	}
	tr := NewSSH(logger.Default(), target, 8383, 2*time.Second)

	args := tr.buildSSHArgs(CommandInfo{Executable: "claude", Args: []string{"--resume"}, WorkDir: "/srv/team"})

	assert.Contains(t, args, "-T")
	assert.Contains(t, args, "ServerAliveInterval=30")
	assert.Contains(t, args, "ServerAliveCountMax=3")
	assert.Contains(t, args, "BatchMode=yes")
	assert.Contains(t, args, "-i")
	assert.Contains(t, args, "/keys/id_ed25519")
	assert.Contains(t, args, "-p")
	assert.Contains(t, args, "2222")
	assert.Contains(t, args, "-C")
	assert.Contains(t, args, "-A")
	assert.Contains(t, args, "9000:localhost:8383")
	assert.Contains(t, args, "ci@build-box")
	assert.Contains(t, args, "StrictHostKeyChecking=no")
	assert.Equal(t, args[len(args)-1], buildRemoteCommand("/srv/team", "claude", []string{"--resume"}))
}

func TestSSHTransport_NoReverseTunnelWhenPortUnset(t *testing.T) {
	target := teams.SSHTarget{Host: "build-box"}
	tr := NewSSH(logger.Default(), target, 8383, 2*time.Second)

	args := tr.buildSSHArgs(CommandInfo{Executable: "claude", WorkDir: "/srv/team"})
	assert.NotContains(t, args, "-R")
}
