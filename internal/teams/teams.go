// Package teams models the team catalog: named configuration entries
// mapping to a working directory (local) or an SSH target (remote), and a
// permission policy (spec §3, §6).
package teams

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/iris-mcp/iris/internal/common/ierrors"
)

// NamePattern is the accepted team identifier pattern (spec §6).
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// PermissionMode is the grantPermission policy a team's tools run under.
type PermissionMode string

const (
	PermissionYes     PermissionMode = "yes"
	PermissionNo      PermissionMode = "no"
	PermissionAsk     PermissionMode = "ask"
	PermissionForward PermissionMode = "forward"
)

func (m PermissionMode) valid() bool {
	switch m {
	case PermissionYes, PermissionNo, PermissionAsk, PermissionForward:
		return true
	}
	return false
}

// SSHTarget describes how to reach a remote team's child process.
type SSHTarget struct {
	Host           string   `yaml:"host" json:"host"`
	User           string   `yaml:"user,omitempty" json:"user,omitempty"`
	Port           int      `yaml:"port,omitempty" json:"port,omitempty"`
	IdentityFile   string   `yaml:"identityFile,omitempty" json:"identityFile,omitempty"`
	Compression    bool     `yaml:"compression,omitempty" json:"compression,omitempty"`
	ForwardAgent   bool     `yaml:"forwardAgent,omitempty" json:"forwardAgent,omitempty"`
	ExtraArgs      []string `yaml:"extraArgs,omitempty" json:"extraArgs,omitempty"`
	ReverseMCPPort int      `yaml:"reverseMcpPort,omitempty" json:"reverseMcpPort,omitempty"`
}

// Team is one entry in the catalog.
type Team struct {
	Name       string         `yaml:"name" json:"name"`
	LocalPath  string         `yaml:"localPath,omitempty" json:"localPath,omitempty"`
	Remote     *SSHTarget     `yaml:"remote,omitempty" json:"remote,omitempty"`
	Permission PermissionMode `yaml:"permission" json:"permission"`
}

// IsRemote reports whether this team's process is reached over SSH.
func (t Team) IsRemote() bool { return t.Remote != nil }

// ValidateName checks name against the spec §6 team-identifier pattern.
func ValidateName(name string) error {
	if !NamePattern.MatchString(name) {
		return ierrors.Validation("team name %q does not match pattern %s", name, NamePattern.String())
	}
	return nil
}

// Catalog is the validated set of configured teams, keyed by name.
type Catalog struct {
	teams map[string]Team
}

// Load reads and validates a team catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ierrors.Configuration("failed to read team catalog %s: %v", path, err)
	}

	var doc struct {
		Teams []Team `yaml:"teams"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ierrors.Configuration("failed to parse team catalog %s: %v", path, err)
	}

	return newCatalog(doc.Teams)
}

// FromTeams validates and wraps an already-in-memory team list, used by
// callers that assemble teams programmatically (tests, admin tooling)
// instead of loading a YAML catalog.
func FromTeams(list []Team) (*Catalog, error) {
	return newCatalog(list)
}

func newCatalog(list []Team) (*Catalog, error) {
	teams := make(map[string]Team, len(list))
	for _, t := range list {
		if err := ValidateName(t.Name); err != nil {
			return nil, err
		}
		if _, exists := teams[t.Name]; exists {
			return nil, ierrors.Configuration("duplicate team name %q in catalog", t.Name)
		}
		if !t.Permission.valid() {
			return nil, ierrors.Configuration("team %q has invalid permission mode %q", t.Name, t.Permission)
		}
		if t.Remote == nil && t.LocalPath == "" {
			return nil, ierrors.Configuration("team %q must set localPath or remote", t.Name)
		}
		teams[t.Name] = t
	}
	return &Catalog{teams: teams}, nil
}

// Get returns the named team, or a ConfigurationError if unknown.
func (c *Catalog) Get(name string) (Team, error) {
	t, ok := c.teams[name]
	if !ok {
		return Team{}, ierrors.Configuration("unknown team %q", name)
	}
	return t, nil
}

// List returns every configured team.
func (c *Catalog) List() []Team {
	out := make([]Team, 0, len(c.teams))
	for _, t := range c.teams {
		out = append(out, t)
	}
	return out
}

// Key returns the pool key "{fromTeam}→{toTeam}" (spec glossary).
func Key(from, to string) string {
	return fmt.Sprintf("%s→%s", from, to)
}
