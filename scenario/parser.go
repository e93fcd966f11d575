package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/driftwatch/core"
)

// Defaults applied when a scenario file omits the corresponding field.
const (
	DefaultMaxUserTurns   = 10
	DefaultProbesPerPoint = 4
)

// anchorGuardBranchID is the branch id older scenario files use to request
// anchor folding. It implies appends_anchor_to_history without the explicit
// flag.
const anchorGuardBranchID = "anchor_guard"

// assistantExpectedRole marks a scripted placeholder for a model reply.
const assistantExpectedRole = "assistant_expected"

// stringList accepts either a scalar or a sequence of strings in YAML, so
// scenarios with a single anchor question need no list syntax.
type stringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}

		*l = stringList{s}

		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}

		*l = stringList(ss)

		return nil
	default:
		return fmt.Errorf("anchor_question must be a string or a list of strings")
	}
}

// frontmatter mirrors the YAML header of a scenario file.
type frontmatter struct {
	Name           string       `yaml:"name"`
	Description    string       `yaml:"description"`
	BehaviorTested string       `yaml:"behavior_tested"`
	AnchorQuestion stringList   `yaml:"anchor_question"`
	MaxUserTurns   int          `yaml:"max_user_turns"`
	ProbesPerPoint int          `yaml:"probes_per_point"`
	AnchorPoints   []int        `yaml:"anchor_points"`
	Branches       []branchSpec `yaml:"branches"`
	Turns          []turnSpec   `yaml:"turns"`
}

type branchSpec struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// Pointer so an explicit false survives the anchor_guard legacy mapping.
	AppendsAnchorToHistory *bool `yaml:"appends_anchor_to_history"`
}

type turnSpec struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Parse parses a scenario document: YAML frontmatter between --- fences
// followed by a markdown body. The returned scenario is validated and ready
// to run.
func Parse(content string) (*core.Scenario, error) {
	return parse(content, "")
}

// ParseFile reads and parses the scenario at path. A missing name field
// falls back to the file stem.
func ParseFile(path string) (*core.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	return parse(string(data), path)
}

func parse(content, path string) (*core.Scenario, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(meta), &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	name := fm.Name
	if name == "" && path != "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	s := &core.Scenario{
		Name:            name,
		BehaviorTested:  fm.BehaviorTested,
		Description:     fm.Description,
		AnchorQuestions: []string(fm.AnchorQuestion),
		MaxUserTurns:    fm.MaxUserTurns,
		ProbesPerPoint:  fm.ProbesPerPoint,
		AnchorPoints:    fm.AnchorPoints,
		Raw:             strings.TrimSpace(body),
	}

	if s.MaxUserTurns == 0 {
		s.MaxUserTurns = DefaultMaxUserTurns
	}

	if s.ProbesPerPoint == 0 {
		s.ProbesPerPoint = DefaultProbesPerPoint
	}

	for _, b := range fm.Branches {
		branch := core.Branch{
			ID:          b.ID,
			Description: b.Description,
		}

		switch {
		case b.AppendsAnchorToHistory != nil:
			branch.AppendsAnchorToHistory = *b.AppendsAnchorToHistory
		case b.ID == anchorGuardBranchID:
			branch.AppendsAnchorToHistory = true
		}

		s.Branches = append(s.Branches, branch)
	}

	if len(s.Branches) == 0 {
		s.Branches = []core.Branch{{ID: "baseline", Description: "Default conversation flow"}}
	}

	for _, t := range fm.Turns {
		if t.Role == assistantExpectedRole {
			s.Turns = append(s.Turns, core.Turn{Role: core.RoleAssistant})
			continue
		}

		s.Turns = append(s.Turns, core.Turn{Role: core.Role(t.Role), Content: t.Content})
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// splitFrontmatter separates the YAML header from the markdown body. The
// document must open with a --- fence on its own line and close the header
// with another.
func splitFrontmatter(content string) (meta, body string, err error) {
	if !strings.HasPrefix(content, "---\n") {
		return "", "", fmt.Errorf("missing frontmatter: scenario files open with a --- fence")
	}

	rest := content[len("---\n"):]

	if idx := strings.Index(rest, "\n---\n"); idx >= 0 {
		return rest[:idx], rest[idx+len("\n---\n"):], nil
	}

	// A closing fence at end of file leaves no body.
	if trimmed := strings.TrimRight(rest, "\n"); strings.HasSuffix(trimmed, "\n---") {
		return strings.TrimSuffix(trimmed, "\n---"), "", nil
	}

	return "", "", fmt.Errorf("missing frontmatter: unterminated --- fence")
}
