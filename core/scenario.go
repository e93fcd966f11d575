package core

import (
	"fmt"
	"slices"
)

// Turn is one scripted step of a scenario conversation.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Branch describes one conversational arm of a scenario. Behavior is driven
// entirely by the declared fields, never by the branch ID: two branches with
// the same flags behave identically regardless of naming.
type Branch struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// AppendsAnchorToHistory folds one anchor probe exchange per anchor
	// question back into the live transcript after each probing point.
	AppendsAnchorToHistory bool `json:"appends_anchor_to_history,omitempty" yaml:"appends_anchor_to_history,omitempty"`
}

// Scenario is a parsed conversation script: the scripted turns, the branches
// to run them under, and the anchor probing plan. A Scenario is immutable
// after parsing; executors and evaluators only read it.
type Scenario struct {
	Name            string   `json:"name"`
	BehaviorTested  string   `json:"behavior_tested"`
	Description     string   `json:"description,omitempty"`
	AnchorQuestions []string `json:"anchor_questions"`
	MaxUserTurns    int      `json:"max_user_turns"`
	ProbesPerPoint  int      `json:"probes_per_point"`

	// AnchorPoints lists the 1-based user-turn indices that are probing
	// points. Empty means every user turn is probed.
	AnchorPoints []int `json:"anchor_points,omitempty"`

	Branches []Branch `json:"branches"`
	Turns    []Turn   `json:"turns"`

	// Raw preserves the markdown body of the source file for reporting.
	Raw string `json:"-"`
}

// SystemPrompt returns the content of a leading system turn and true, or ""
// and false when the script does not open with one.
func (s *Scenario) SystemPrompt() (string, bool) {
	if len(s.Turns) > 0 && s.Turns[0].Role == RoleSystem {
		return s.Turns[0].Content, true
	}
	return "", false
}

// UserTurnCount returns the number of scripted user turns, capped at
// MaxUserTurns when that limit is set.
func (s *Scenario) UserTurnCount() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			n++
		}
	}
	if s.MaxUserTurns > 0 && n > s.MaxUserTurns {
		return s.MaxUserTurns
	}
	return n
}

// IsAnchorPoint reports whether the given 1-based user-turn index is a
// probing point under this scenario's plan.
func (s *Scenario) IsAnchorPoint(userTurn int) bool {
	if len(s.AnchorPoints) == 0 {
		return true
	}
	return slices.Contains(s.AnchorPoints, userTurn)
}

// Validate checks structural integrity and returns a MalformedScenarioError
// listing every problem found, or nil when the scenario is runnable.
func (s *Scenario) Validate() error {
	var problems []string
	if s.Name == "" {
		problems = append(problems, "name is required")
	}
	if s.BehaviorTested == "" {
		problems = append(problems, "behavior_tested is required")
	}
	if len(s.AnchorQuestions) == 0 {
		problems = append(problems, "at least one anchor question is required")
	}
	for i, q := range s.AnchorQuestions {
		if q == "" {
			problems = append(problems, fmt.Sprintf("anchor question %d is empty", i+1))
		}
	}
	if s.MaxUserTurns <= 0 {
		problems = append(problems, "max_user_turns must be positive")
	}
	if s.ProbesPerPoint <= 0 {
		problems = append(problems, "probes_per_point must be positive")
	}
	if len(s.Turns) == 0 {
		problems = append(problems, "at least one turn is required")
	}
	userTurns := 0
	for i, t := range s.Turns {
		switch t.Role {
		case RoleSystem:
			if i != 0 {
				problems = append(problems, fmt.Sprintf("turn %d: system turns are only allowed first", i+1))
			}
		case RoleUser:
			userTurns++
			if t.Content == "" {
				problems = append(problems, fmt.Sprintf("turn %d: user turn has no content", i+1))
			}
		case RoleAssistant:
			// Assistant turns are placeholders; content is generated.
		default:
			problems = append(problems, fmt.Sprintf("turn %d: unknown role %q", i+1, t.Role))
		}
	}
	if userTurns == 0 && len(s.Turns) > 0 {
		problems = append(problems, "at least one user turn is required")
	}
	if len(s.Branches) == 0 {
		problems = append(problems, "at least one branch is required")
	}
	seen := make(map[string]bool, len(s.Branches))
	for i, b := range s.Branches {
		if b.ID == "" {
			problems = append(problems, fmt.Sprintf("branch %d: id is required", i+1))
			continue
		}
		if seen[b.ID] {
			problems = append(problems, fmt.Sprintf("branch %d: duplicate id %q", i+1, b.ID))
		}
		seen[b.ID] = true
	}
	for _, p := range s.AnchorPoints {
		if p < 1 || p > userTurns {
			problems = append(problems, fmt.Sprintf("anchor point %d is outside the scripted user turns (1..%d)", p, userTurns))
		}
	}
	if len(problems) > 0 {
		return &MalformedScenarioError{Name: s.Name, Problems: problems}
	}
	return nil
}
