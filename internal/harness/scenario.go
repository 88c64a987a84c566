package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
)

// Scenario is one dispatch scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Manifest is an optional CUE manifest path, relative to the scenario
	// file.
	Manifest string `yaml:"manifest,omitempty"`

	// Files are served from an in-memory archive root.
	Files map[string]string `yaml:"files,omitempty"`

	// Root is an optional directory, relative to the scenario file, served
	// as an archive root after Files.
	Root string `yaml:"root,omitempty"`

	// Handles are loaded in the order given before the first step.
	Handles []string `yaml:"handles"`

	Threaded     bool   `yaml:"threaded,omitempty"`
	DevMode      bool   `yaml:"dev_mode,omitempty"`
	Seed         uint64 `yaml:"seed,omitempty"`
	FaultBudget  int    `yaml:"fault_budget,omitempty"`
	SyncInterval int64  `yaml:"sync_interval,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of a scenario. Exactly one action field is set.
type Step struct {
	Frames     int64  `yaml:"frames,omitempty"`
	Notify     string `yaml:"notify,omitempty"`
	Allow      string `yaml:"allow,omitempty"`
	Respond    string `yaml:"respond,omitempty"`
	Fire       string `yaml:"fire,omitempty"`
	Press      bool   `yaml:"press,omitempty"`
	Move       bool   `yaml:"move,omitempty"`
	Release    bool   `yaml:"release,omitempty"`
	Load       string `yaml:"load,omitempty"`
	Unload     string `yaml:"unload,omitempty"`
	Reload     string `yaml:"reload,omitempty"`
	Kill       string `yaml:"kill,omitempty"`
	Flush      bool   `yaml:"flush,omitempty"`
	Checkpoint bool   `yaml:"checkpoint,omitempty"`
	Verify     bool   `yaml:"verify,omitempty"`

	Args []any `yaml:"args,omitempty"`

	// Expect is the answer expected from an allow, respond, fire or
	// pointer step, or from every handle of a verify step.
	Expect *bool `yaml:"expect,omitempty"`

	// Fails marks load, unload and reload steps that must fail.
	Fails bool `yaml:"fails,omitempty"`
}

// Action names the step's action.
func (s Step) Action() string {
	switch {
	case s.Frames > 0:
		return "frames"
	case s.Notify != "":
		return "notify"
	case s.Allow != "":
		return "allow"
	case s.Respond != "":
		return "respond"
	case s.Fire != "":
		return "fire"
	case s.Press:
		return "press"
	case s.Move:
		return "move"
	case s.Release:
		return "release"
	case s.Load != "":
		return "load"
	case s.Unload != "":
		return "unload"
	case s.Reload != "":
		return "reload"
	case s.Kill != "":
		return "kill"
	case s.Flush:
		return "flush"
	case s.Checkpoint:
		return "checkpoint"
	case s.Verify:
		return "verify"
	}
	return ""
}

// answers reports whether the step produces an answer Expect can check.
func (s Step) answers() bool {
	switch s.Action() {
	case "allow", "respond", "fire", "press", "move", "release", "verify":
		return true
	}
	return false
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Frames > 0, s.Notify != "", s.Allow != "", s.Respond != "", s.Fire != "",
		s.Press, s.Move, s.Release, s.Load != "",
		s.Unload != "", s.Reload != "", s.Kill != "", s.Flush, s.Checkpoint, s.Verify,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion checks the trace or the final state of a run.
type Assertion struct {
	Type string `yaml:"type"`

	// Handle restricts trace assertions to one handle; for fault_count it
	// names the handle to count.
	Handle string `yaml:"handle,omitempty"`

	Line  string   `yaml:"line,omitempty"`
	Lines []string `yaml:"lines,omitempty"`
	Count int      `yaml:"count,omitempty"`

	// Handles is the expected loaded set, in dispatch order.
	Handles []string `yaml:"handles,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertLoaded        = "loaded"
	AssertFaultCount    = "fault_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected. Manifest and Root are resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	if s.Manifest != "" && !filepath.IsAbs(s.Manifest) {
		s.Manifest = filepath.Join(base, s.Manifest)
	}
	if s.Root != "" && !filepath.IsAbs(s.Root) {
		s.Root = filepath.Join(base, s.Root)
	}
	for what, p := range map[string]string{"manifest": s.Manifest, "root": s.Root} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("invalid scenario: %s: %w", what, err)
		}
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Files) == 0 && s.Root == "" {
		return fmt.Errorf("files or root is required")
	}
	if len(s.Handles) == 0 {
		return fmt.Errorf("handles list is required and must be non-empty")
	}
	for i, k := range s.Handles {
		if _, err := handle.ParseKind(k); err != nil {
			return fmt.Errorf("handles[%d]: %w", i, err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.actions() {
	case 0:
		return fmt.Errorf("steps[%d]: no action", i)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: more than one action", i)
	}

	for _, k := range []string{step.Load, step.Unload, step.Reload, step.Kill} {
		if k == "" {
			continue
		}
		if _, err := handle.ParseKind(k); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if step.Frames < 0 {
		return fmt.Errorf("steps[%d]: frames must be positive", i)
	}
	if step.Expect != nil && !step.answers() {
		return fmt.Errorf("steps[%d]: expect is only valid for allow, respond, fire, pointer and verify steps", i)
	}
	if step.Fails && step.Load == "" && step.Unload == "" && step.Reload == "" {
		return fmt.Errorf("steps[%d]: fails is only valid for load, unload and reload", i)
	}
	if step.Notify == events.Shutdown || step.Fire == events.Shutdown {
		return fmt.Errorf("steps[%d]: %s is sent when the run ends", i, events.Shutdown)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_contains", i)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for trace_order", i)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", i)
		}
	case AssertLoaded:
	case AssertFaultCount:
		if a.Handle == "" {
			return fmt.Errorf("assertions[%d]: handle is required for fault_count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fault_count", i)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
