package internal

import (
	"strings"
	"testing"

	"github.com/starford/waypoint/internal/blend"
	"github.com/starford/waypoint/internal/kinematics"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	l := cfg.Layout()
	if l.RobotDoF != 6 || l.NodeCount != 10 || l.TimelineSize != 600 || l.Stride() != 60 {
		t.Errorf("layout = %+v", l)
	}
	if got := len(cfg.Model.Chain()); got != 3 {
		t.Errorf("chain links = %d, want 3", got)
	}
}

func TestConfig_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no links", func(c *Config) { c.Model.Links = nil }, "links"},
		{"short axis", func(c *Config) { c.Model.Links[0].Axis = []float64{0, 1} }, "axis"},
		{"zero axis", func(c *Config) { c.Model.Links[1].Axis = []float64{0, 0, 0} }, "zero vector"},
		{"no timeline", func(c *Config) { c.Trajectory.TimelineSize = 0 }, "timelinesize"},
		{"fewer frames than nodes", func(c *Config) { c.Trajectory.TimelineSize = 5 }, "smaller than node count"},
		{"body is world", func(c *Config) { c.Trajectory.BodyID = 0 }, "body_id"},
		{"body past chain", func(c *Config) { c.Trajectory.BodyID = 5 }, "body_id"},
		{"watch without input", func(c *Config) { c.Trajectory.InputFile = "" }, "inputfile"},
		{"bad boundary", func(c *Config) { c.Commit.Boundary = "clamp" }, "boundary"},
		{"bad seed", func(c *Config) { c.Commit.Seed = "random" }, "seed"},
		{"zero width", func(c *Config) { c.Commit.KernelWidth = 0 }, "kernelwidth"},
		{"progress over 100", func(c *Config) { c.Commit.ProgressStep = 150 }, "progressstep"},
		{"no port", func(c *Config) { c.App.HTTP.Port = 0 }, "port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tc.want) {
				t.Errorf("err = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestConfig_InputOptionalWithoutWatch(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Trajectory.InputFile = ""
	cfg.Trajectory.Watch = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("store-only config should pass: %v", err)
	}
}

func TestCommitConfig_EngineOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	chain, err := kinematics.NewChain(cfg.Layout(), cfg.Model.Chain())
	if err != nil {
		t.Fatal(err)
	}
	solver := kinematics.NewSolver(chain, cfg.Commit.SolverTolerance, cfg.Commit.SolverDamping)
	if _, err := blend.NewEngine(cfg.Layout(), chain, solver, cfg.Commit.EngineOptions(nil)...); err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Options reach the engine: an unvalidated zero window is rejected there.
	cfg.Commit.Iterations = 0
	_, err = blend.NewEngine(cfg.Layout(), chain, solver, cfg.Commit.EngineOptions(nil)...)
	if err == nil || !strings.Contains(err.Error(), "iterations") {
		t.Errorf("err = %v, want iterations error", err)
	}
}
