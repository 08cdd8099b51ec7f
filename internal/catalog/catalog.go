// Package catalog holds the agent marketplace: built-in presets plus custom
// agents and teams loaded from YAML files in the data directory. A selection
// is resolved exactly once, at run creation, into a concrete persona prompt.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"forge/internal/types"
)

var (
	ErrUnknownPreset = errors.New("catalog: unknown preset")
	ErrUnknownAgent  = errors.New("catalog: unknown custom agent")
	ErrUnknownTeam   = errors.New("catalog: unknown team")
	ErrAmbiguous     = errors.New("catalog: agent selection must name at most one of preset, agent or team")
)

// CustomAgent is a user-defined persona loaded from YAML.
type CustomAgent struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Prompt       string   `json:"prompt" yaml:"prompt"`
	TechStack    []string `json:"tech_stack,omitempty" yaml:"tech_stack,omitempty"`
	DocumentMode bool     `json:"document_mode,omitempty" yaml:"document_mode,omitempty"`
}

// TeamMember references either a preset or a custom agent.
type TeamMember struct {
	PresetID string `json:"preset_id,omitempty" yaml:"preset_id,omitempty"`
	AgentID  string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
}

// Team combines several members into one shared persona.
type Team struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Members     []TeamMember `json:"members" yaml:"members"`
}

type catalogFile struct {
	Kind  string       `yaml:"kind"`
	Agent *CustomAgent `yaml:"agent,omitempty"`
	Team  *Team        `yaml:"team,omitempty"`
}

type Catalog struct {
	agents map[string]CustomAgent
	teams  map[string]Team
}

// Load reads every *.yaml / *.yml file under dir. A missing directory yields
// an empty catalog.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{
		agents: make(map[string]CustomAgent),
		teams:  make(map[string]Team),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", name, err)
		}
		switch strings.ToLower(strings.TrimSpace(file.Kind)) {
		case "agent":
			if file.Agent == nil || strings.TrimSpace(file.Agent.ID) == "" {
				return nil, fmt.Errorf("catalog: %s: agent document missing id", name)
			}
			c.agents[file.Agent.ID] = *file.Agent
		case "team":
			if file.Team == nil || strings.TrimSpace(file.Team.ID) == "" {
				return nil, fmt.Errorf("catalog: %s: team document missing id", name)
			}
			c.teams[file.Team.ID] = *file.Team
		default:
			return nil, fmt.Errorf("catalog: %s: unknown kind %q", name, file.Kind)
		}
	}
	return c, nil
}

// Empty returns a catalog with no custom entries.
func Empty() *Catalog {
	return &Catalog{
		agents: make(map[string]CustomAgent),
		teams:  make(map[string]Team),
	}
}

func (c *Catalog) Agents() []CustomAgent {
	out := make([]CustomAgent, 0, len(c.agents))
	for _, agent := range c.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Teams() []Team {
	out := make([]Team, 0, len(c.teams))
	for _, team := range c.teams {
		out = append(out, team)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolved is the concrete persona a selection collapses to.
type Resolved struct {
	Label   string `json:"label"`
	Persona string `json:"persona"`
}

// Resolve collapses the tagged selection into a persona prompt. The zero
// selection resolves to the default (empty persona).
func (c *Catalog) Resolve(sel types.AgentSelection) (Resolved, error) {
	preset := strings.TrimSpace(sel.Preset)
	agentID := strings.TrimSpace(sel.AgentID)
	teamID := strings.TrimSpace(sel.TeamID)

	set := 0
	for _, v := range []string{preset, agentID, teamID} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return Resolved{}, ErrAmbiguous
	}

	switch {
	case preset != "":
		p, ok := PresetByID(preset)
		if !ok {
			return Resolved{}, fmt.Errorf("%w: %s", ErrUnknownPreset, preset)
		}
		return Resolved{Label: p.Name, Persona: presetPersona(p)}, nil
	case agentID != "":
		agent, ok := c.agents[agentID]
		if !ok {
			return Resolved{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
		}
		return Resolved{Label: agent.Name, Persona: agentPersona(agent)}, nil
	case teamID != "":
		team, ok := c.teams[teamID]
		if !ok {
			return Resolved{}, fmt.Errorf("%w: %s", ErrUnknownTeam, teamID)
		}
		persona, err := c.teamPersona(team)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Label: team.Name, Persona: persona}, nil
	default:
		return Resolved{}, nil
	}
}

func presetPersona(p Preset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== PRESET: %s ===\n%s", p.Name, p.PersonaPrompt)
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s\n", strings.Join(p.Tags, ", "))
	}
	return b.String()
}

func agentPersona(a CustomAgent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== CUSTOM AGENT: %s ===\n%s\n", a.Name, strings.TrimSpace(a.Prompt))
	if len(a.TechStack) > 0 {
		fmt.Fprintf(&b, "\nTech Stack: %s\n", strings.Join(a.TechStack, ", "))
	}
	return b.String()
}

func (c *Catalog) teamPersona(team Team) (string, error) {
	var blocks []string
	for _, member := range team.Members {
		switch {
		case strings.TrimSpace(member.PresetID) != "":
			p, ok := PresetByID(member.PresetID)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrUnknownPreset, member.PresetID)
			}
			blocks = append(blocks, fmt.Sprintf("--- PRESET: %s (%s) ---\n%s", p.Name, p.ID, p.PersonaPrompt))
		case strings.TrimSpace(member.AgentID) != "":
			agent, ok := c.agents[member.AgentID]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrUnknownAgent, member.AgentID)
			}
			blocks = append(blocks, fmt.Sprintf("--- %s ---\n%s", agent.Name, strings.TrimSpace(agent.Prompt)))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "=== TEAM: %s ===\n", team.Name)
	if team.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", team.Description)
	}
	if len(blocks) == 0 {
		b.WriteString("No members.\n")
	} else {
		b.WriteString(strings.Join(blocks, "\n\n"))
	}
	return b.String(), nil
}
