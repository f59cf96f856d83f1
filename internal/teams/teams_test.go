package teams

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTeams_ValidatesNameAndPermission(t *testing.T) {
	_, err := FromTeams([]Team{{Name: "bad name", LocalPath: ".", Permission: PermissionYes}})
	assert.Error(t, err)

	_, err = FromTeams([]Team{{Name: "frontend", LocalPath: ".", Permission: "maybe"}})
	assert.Error(t, err)
}

func TestFromTeams_RejectsDuplicateNames(t *testing.T) {
	_, err := FromTeams([]Team{
		{Name: "frontend", LocalPath: ".", Permission: PermissionYes},
		{Name: "frontend", LocalPath: "./other", Permission: PermissionYes},
	})
	assert.Error(t, err)
}

func TestFromTeams_RequiresLocalPathOrRemote(t *testing.T) {
	_, err := FromTeams([]Team{{Name: "frontend", Permission: PermissionYes}})
	assert.Error(t, err)

	catalog, err := FromTeams([]Team{{Name: "frontend", Remote: &SSHTarget{Host: "example.com"}, Permission: PermissionYes}})
	require.NoError(t, err)
	team, err := catalog.Get("frontend")
	require.NoError(t, err)
	assert.True(t, team.IsRemote())
}

func TestCatalog_GetUnknownTeamReturnsError(t *testing.T) {
	catalog, err := FromTeams([]Team{{Name: "frontend", LocalPath: ".", Permission: PermissionYes}})
	require.NoError(t, err)

	_, err = catalog.Get("backend")
	assert.Error(t, err)
}

func TestCatalog_ListReturnsAllTeams(t *testing.T) {
	catalog, err := FromTeams([]Team{
		{Name: "frontend", LocalPath: ".", Permission: PermissionYes},
		{Name: "backend", LocalPath: ".", Permission: PermissionAsk},
	})
	require.NoError(t, err)
	assert.Len(t, catalog.List(), 2)
}

func TestLoad_ParsesYAMLCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teams.yaml")
	contents := []byte(`
teams:
  - name: frontend
    localPath: .
    permission: yes
  - name: backend
    remote:
      host: backend.internal
      user: deploy
    permission: forward
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	catalog, err := Load(path)
	require.NoError(t, err)

	frontend, err := catalog.Get("frontend")
	require.NoError(t, err)
	assert.False(t, frontend.IsRemote())

	backend, err := catalog.Get("backend")
	require.NoError(t, err)
	assert.True(t, backend.IsRemote())
	assert.Equal(t, "backend.internal", backend.Remote.Host)
}

func TestLoad_MissingFileReturnsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestKey_FormatsFromAndTo(t *testing.T) {
	assert.Equal(t, "frontend→backend", Key("frontend", "backend"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("frontend-2"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("has a space"))
}
