package core

import "testing"

func TestHistory_CloneIsIndependent(t *testing.T) {
	h := History{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}

	clone := h.Clone()
	clone[1].Content = "changed"
	clone = append(clone, Message{Role: RoleAssistant, Content: "extra"})

	if h[1].Content != "hi" {
		t.Errorf("clone mutation leaked into original: %+v", h)
	}
	if len(h) != 2 {
		t.Errorf("expected original length 2, got %d", len(h))
	}
	if len(clone) != 3 {
		t.Errorf("expected clone length 3, got %d", len(clone))
	}
}

func TestHistory_WithAppendedLeavesReceiverUntouched(t *testing.T) {
	h := History{{Role: RoleUser, Content: "hi"}}

	derived := h.WithAppended(
		Message{Role: RoleUser, Content: "anchor?"},
		Message{Role: RoleAssistant, Content: "answer"},
	)

	if len(h) != 1 {
		t.Fatalf("receiver grew to %d messages", len(h))
	}
	if len(derived) != 3 {
		t.Fatalf("expected derived length 3, got %d", len(derived))
	}
	derived[0].Content = "mutated"
	if h[0].Content != "hi" {
		t.Error("derived mutation leaked into receiver")
	}
}

func TestHistory_LastAssistant(t *testing.T) {
	h := History{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
		{Role: RoleAssistant, Content: "a2"},
		{Role: RoleUser, Content: "q3"},
	}
	got, ok := h.LastAssistant()
	if !ok || got != "a2" {
		t.Errorf("expected (a2, true), got (%q, %v)", got, ok)
	}

	empty := History{{Role: RoleUser, Content: "q"}}
	if _, ok := empty.LastAssistant(); ok {
		t.Error("expected no assistant message")
	}
}

func TestHistory_UserTurns(t *testing.T) {
	h := History{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	}
	if n := h.UserTurns(); n != 2 {
		t.Errorf("expected 2 user turns, got %d", n)
	}
}
