package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/request"

	"gopkg.in/yaml.v3"
)

// Loader resolves project names to validated Project structures. One YAML
// file per project under the configured directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads and validates <dir>/<name>.yaml.
func (l *Loader) Load(name string) (*Project, error) {
	if strings.ContainsAny(name, "/\\") {
		return nil, wardenErrors.InvalidInput("project name must not contain path separators")
	}

	path := filepath.Join(l.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wardenErrors.NotFound("project " + name)
		}
		return nil, fmt.Errorf("read project config %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, wardenErrors.Wrap(err, "project "+name)
	}
	if p.Name != name {
		return nil, wardenErrors.Configuration(fmt.Sprintf("project file %s declares name %q", path, p.Name))
	}
	return p, nil
}

// List returns the names of all configured projects.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects dir %s: %w", l.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		}
	}
	return names, nil
}

type rawProject struct {
	Name      string              `yaml:"name"`
	Repo      string              `yaml:"repo"`
	Policy    string              `yaml:"policy"`
	Routing   map[string][]string `yaml:"routing"`
	Knowledge []rawKnowledge      `yaml:"knowledge"`
	Roles     []rawRole           `yaml:"roles"`
}

type rawKnowledge struct {
	Slug  string `yaml:"slug"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

type rawRole struct {
	Name         string          `yaml:"name"`
	Purpose      string          `yaml:"purpose"`
	Trust        []string        `yaml:"trust"`
	Allowed      []string        `yaml:"allowed"`
	Denied       []string        `yaml:"denied"`
	Significant  []string        `yaml:"significant"`
	Constraints  []rawConstraint `yaml:"constraints"`
	Instructions string          `yaml:"instructions"`
	Model        string          `yaml:"model"`
	MaxTokens    int             `yaml:"max_tokens"`
}

// Parse decodes and validates a project definition. Every validation
// failure is a configuration error; nothing is repaired silently.
func Parse(data []byte) (*Project, error) {
	var raw rawProject
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, wardenErrors.Configuration(fmt.Sprintf("parse yaml: %v", err))
	}

	if strings.TrimSpace(raw.Name) == "" {
		return nil, wardenErrors.Configuration("project name is required")
	}
	if !strings.Contains(raw.Repo, "/") {
		return nil, wardenErrors.Configuration(fmt.Sprintf("repo must be owner/name, got %q", raw.Repo))
	}
	if len(raw.Roles) == 0 {
		return nil, wardenErrors.Configuration("at least one role is required")
	}

	p := &Project{
		Name:    raw.Name,
		Repo:    raw.Repo,
		Policy:  raw.Policy,
		Routing: raw.Routing,
	}

	for _, k := range raw.Knowledge {
		if strings.TrimSpace(k.Slug) == "" {
			return nil, wardenErrors.Configuration("knowledge page slug is required")
		}
		p.Knowledge = append(p.Knowledge, KnowledgePage(k))
	}

	seen := make(map[string]bool, len(raw.Roles))
	for _, rr := range raw.Roles {
		role, err := parseRole(rr)
		if err != nil {
			return nil, wardenErrors.Configuration(fmt.Sprintf("role %q: %v", rr.Name, err))
		}
		if seen[role.Name] {
			return nil, wardenErrors.Configuration(fmt.Sprintf("duplicate role %q", role.Name))
		}
		seen[role.Name] = true
		p.Roles = append(p.Roles, role)
	}

	for category, candidates := range raw.Routing {
		if len(candidates) == 0 {
			return nil, wardenErrors.Configuration(fmt.Sprintf("routing override for %q lists no roles", category))
		}
		for _, candidate := range candidates {
			if !seen[candidate] {
				return nil, wardenErrors.Configuration(fmt.Sprintf("routing override for %q names unknown role %q", category, candidate))
			}
		}
	}

	return p, nil
}

func parseRole(raw rawRole) (*Role, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(raw.Trust) == 0 {
		return nil, fmt.Errorf("accepted trust set is required")
	}

	role := &Role{
		Name:         raw.Name,
		Purpose:      raw.Purpose,
		Allowed:      raw.Allowed,
		Denied:       raw.Denied,
		Significant:  raw.Significant,
		Instructions: raw.Instructions,
		Model:        raw.Model,
		MaxTokens:    raw.MaxTokens,
	}

	for _, name := range raw.Trust {
		level, err := request.ParseTrustLevel(name)
		if err != nil {
			return nil, err
		}
		role.Trust = append(role.Trust, level)
	}

	for i, rc := range raw.Constraints {
		decl, err := parseConstraint(rc)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i+1, err)
		}
		role.Constraints = append(role.Constraints, decl)
	}

	return role, nil
}
