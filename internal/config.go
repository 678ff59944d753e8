package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/starford/waypoint/internal/blend"
	"github.com/starford/waypoint/internal/kinematics"
	"github.com/starford/waypoint/internal/watch"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Trajectory TrajectoryConfig  `yaml:"trajectory"`
	Model      ModelConfig       `yaml:"model"`
	Commit     CommitConfig      `yaml:"commit"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Trajectory.Validate(); err != nil {
		return fmt.Errorf("trajectory: %w", err)
	}
	if err := c.Commit.Validate(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := validation.Validate(c.Trajectory.BodyID,
		validation.Required,
		validation.Min(kinematics.BaseBody),
		validation.Max(kinematics.LinkBody(len(c.Model.Links)-1)),
	); err != nil {
		return fmt.Errorf("trajectory: body_id: %w", err)
	}
	l := c.Layout()
	return l.Validate()
}

// Layout returns the trajectory layout implied by the model and trajectory sections.
func (c *Config) Layout() blend.Layout {
	return blend.Layout{
		RobotDoF:     3 + len(c.Model.Links),
		NonNodeCount: c.Trajectory.NonNodeCount,
		NodeCount:    c.Trajectory.NodeCount,
		TimelineSize: c.Trajectory.TimelineSize,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// NodesThrottle is the minimum gap between two nodes.updated events.
	NodesThrottle time.Duration `yaml:"nodes_throttle"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.NodesThrottle, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// TrajectoryConfig describes the edited timeline and where it comes from.
//
// InputFile seeds the store on first start and whenever its contents change.
// It may be empty once the store holds a timeline.
type TrajectoryConfig struct {
	InputFile     string        `yaml:"input_file"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	TimelineSize  int           `yaml:"timeline_size"`
	NodeCount     int           `yaml:"node_count"`
	NonNodeCount  int           `yaml:"non_node_count"`
	BodyID        int           `yaml:"body_id"`
}

// Validate validates the trajectory configuration.
func (c *TrajectoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
		validation.Field(&c.TimelineSize, validation.Required, validation.Min(1)),
		validation.Field(&c.NodeCount, validation.Required, validation.Min(1)),
		validation.Field(&c.NonNodeCount, validation.Min(0)),
		validation.Field(&c.InputFile, validation.When(c.Watch, validation.Required.Error("is required when watch is on"))),
	)
}

// ModelConfig describes the reference serial chain.
type ModelConfig struct {
	Links []LinkConfig `yaml:"links"`
}

// Validate validates the model configuration.
func (c *ModelConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Links, validation.Required),
	); err != nil {
		return err
	}
	for i := range c.Links {
		if err := c.Links[i].Validate(); err != nil {
			return fmt.Errorf("links[%d]: %w", i, err)
		}
	}
	return nil
}

// Chain returns the model's links as kinematic links.
func (c *ModelConfig) Chain() []kinematics.Link {
	links := make([]kinematics.Link, len(c.Links))
	for i, l := range c.Links {
		links[i] = kinematics.Link{Axis: vec3(l.Axis), Segment: vec3(l.Segment)}
	}
	return links
}

// LinkConfig is one revolute joint: the rotation axis in the parent frame
// and the segment from the joint to the link's end.
type LinkConfig struct {
	Axis    []float64 `yaml:"axis"`
	Segment []float64 `yaml:"segment"`
}

var errZeroAxis = errors.New("must not be the zero vector")

// Validate validates the link configuration.
func (c *LinkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Axis, validation.Required, validation.Length(3, 3), validation.By(func(any) error {
			if len(c.Axis) == 3 && r3.Norm(vec3(c.Axis)) == 0 {
				return errZeroAxis
			}
			return nil
		})),
		validation.Field(&c.Segment, validation.Required, validation.Length(3, 3)),
	)
}

func vec3(v []float64) r3.Vec {
	if len(v) != 3 {
		return r3.Vec{}
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// CommitConfig tunes how drops are blended into the timeline.
type CommitConfig struct {
	Iterations          int     `yaml:"iterations"`
	MaxSolverIterations int     `yaml:"max_solver_iterations"`
	KernelWidth         float64 `yaml:"kernel_width"`
	ProgressStep        float64 `yaml:"progress_step"`
	Boundary            string  `yaml:"boundary"`
	Seed                string  `yaml:"seed"`
	SolverTolerance     float64 `yaml:"solver_tolerance"`
	SolverDamping       float64 `yaml:"solver_damping"`
}

// Validate validates the commit configuration.
func (c *CommitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Iterations, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxSolverIterations, validation.Required, validation.Min(1)),
		validation.Field(&c.KernelWidth, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.ProgressStep, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(100.0)),
		validation.Field(&c.Boundary, validation.Required, validation.In(string(blend.BoundaryWrap), string(blend.BoundarySkip))),
		validation.Field(&c.Seed, validation.Required, validation.In(string(blend.SeedFrame), string(blend.SeedNeighbor))),
		validation.Field(&c.SolverTolerance, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.SolverDamping, validation.Min(0.0)),
	)
}

// EngineOptions converts the commit section into engine options.
func (c *CommitConfig) EngineOptions(logger *slog.Logger) []blend.Option {
	return []blend.Option{
		blend.WithKernel(blend.Kernel{Width: c.KernelWidth}),
		blend.WithIterations(c.Iterations),
		blend.WithMaxSolverIterations(c.MaxSolverIterations),
		blend.WithProgressStep(c.ProgressStep),
		blend.WithBoundary(blend.Boundary(c.Boundary)),
		blend.WithSeed(blend.Seed(c.Seed)),
		blend.WithLogger(logger),
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
//
// The default model is a three-joint arm on a floating base; its end
// effector is the tracked body.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			NodesThrottle: 100 * time.Millisecond,
		},
		SQLite: SQLiteConfig{
			Path: "./waypoint.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Trajectory: TrajectoryConfig{
			InputFile:     "./data/trajectory.txt",
			Watch:         true,
			WatchDebounce: watch.DefaultDebounce,
			TimelineSize:  600,
			NodeCount:     10,
			BodyID:        kinematics.LinkBody(2),
		},
		Model: ModelConfig{
			Links: []LinkConfig{
				{Axis: []float64{0, 0, 1}, Segment: []float64{0, 0, 0.3}},
				{Axis: []float64{0, 1, 0}, Segment: []float64{0.4, 0, 0}},
				{Axis: []float64{0, 1, 0}, Segment: []float64{0.3, 0, 0}},
			},
		},
		Commit: CommitConfig{
			Iterations:          blend.DefaultIterations,
			MaxSolverIterations: blend.DefaultMaxSolverIterations,
			KernelWidth:         blend.DefaultWidth,
			ProgressStep:        blend.DefaultProgressStep,
			Boundary:            string(blend.BoundaryWrap),
			Seed:                string(blend.SeedFrame),
			SolverTolerance:     kinematics.DefaultTolerance,
			SolverDamping:       kinematics.DefaultDamping,
		},
	}
}
