package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forge/internal/types"
)

func writeCatalogFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
}

func TestLoadMissingDirYieldsEmptyCatalog(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Agents()) != 0 || len(c.Teams()) != 0 {
		t.Fatalf("expected empty catalog")
	}
}

func TestLoadAgentsAndTeams(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "rustacean.yaml", `
kind: agent
agent:
  id: rustacean
  name: Rust Specialist
  prompt: You write safe and fast Rust.
  tech_stack: [rust, tokio]
`)
	writeCatalogFile(t, dir, "core-team.yaml", `
kind: team
team:
  id: core
  name: Core Team
  description: Builds the product end to end.
  members:
    - preset_id: senior_python
    - agent_id: rustacean
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Agents()) != 1 || c.Agents()[0].ID != "rustacean" {
		t.Fatalf("unexpected agents: %+v", c.Agents())
	}
	if len(c.Teams()) != 1 || c.Teams()[0].ID != "core" {
		t.Fatalf("unexpected teams: %+v", c.Teams())
	}
}

func TestResolvePreset(t *testing.T) {
	resolved, err := Empty().Resolve(types.AgentSelection{Preset: "senior_python"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Label != "Senior Python Developer" {
		t.Fatalf("unexpected label: %q", resolved.Label)
	}
	if !strings.Contains(resolved.Persona, "PRESET: Senior Python Developer") {
		t.Fatalf("persona missing preset block: %q", resolved.Persona)
	}
}

func TestResolveTeamCombinesMembers(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "agent.yaml", `
kind: agent
agent:
  id: rustacean
  name: Rust Specialist
  prompt: You write safe and fast Rust.
`)
	writeCatalogFile(t, dir, "team.yaml", `
kind: team
team:
  id: core
  name: Core Team
  members:
    - preset_id: senior_python
    - agent_id: rustacean
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolved, err := c.Resolve(types.AgentSelection{TeamID: "core"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(resolved.Persona, "TEAM: Core Team") {
		t.Fatalf("persona missing team header: %q", resolved.Persona)
	}
	if !strings.Contains(resolved.Persona, "Rust Specialist") || !strings.Contains(resolved.Persona, "Senior Python Developer") {
		t.Fatalf("persona missing member blocks: %q", resolved.Persona)
	}
}

func TestResolveRejectsAmbiguousSelection(t *testing.T) {
	_, err := Empty().Resolve(types.AgentSelection{Preset: "senior_python", TeamID: "core"})
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
}

func TestResolveUnknownSelections(t *testing.T) {
	if _, err := Empty().Resolve(types.AgentSelection{Preset: "nope"}); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}
	if _, err := Empty().Resolve(types.AgentSelection{AgentID: "nope"}); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	if _, err := Empty().Resolve(types.AgentSelection{TeamID: "nope"}); !errors.Is(err, ErrUnknownTeam) {
		t.Fatalf("expected ErrUnknownTeam, got %v", err)
	}
}

func TestResolveZeroSelectionIsDefault(t *testing.T) {
	resolved, err := Empty().Resolve(types.AgentSelection{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Persona != "" || resolved.Label != "" {
		t.Fatalf("expected empty default resolution, got %+v", resolved)
	}
}
