package core

// Role identifies the author of a conversation message.
type Role string

// Conversation roles understood by drivers and scenario scripts.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation entry exchanged with a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an ordered conversation transcript. A History is owned by exactly
// one branch executor at a time; anything that needs to read or extend it from
// another goroutine works on a copy.
//
// Contract:
//   - Clone returns a copy safe for independent mutation
//   - WithAppended never modifies the receiver; probe dispatches build their
//     disposable context this way so the live transcript stays untouched.
type History []Message

// Clone returns a copy of the history that can be mutated independently.
func (h History) Clone() History {
	c := make(History, len(h))
	copy(c, h)
	return c
}

// WithAppended returns a new history consisting of h followed by msgs. The
// receiver is left unmodified.
func (h History) WithAppended(msgs ...Message) History {
	c := make(History, 0, len(h)+len(msgs))
	c = append(c, h...)
	c = append(c, msgs...)
	return c
}

// LastAssistant returns the content of the most recent assistant message and
// true, or "" and false when the history contains none.
func (h History) LastAssistant() (string, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == RoleAssistant {
			return h[i].Content, true
		}
	}
	return "", false
}

// UserTurns counts the user messages in the history.
func (h History) UserTurns() int {
	n := 0
	for _, m := range h {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
