// Package chat holds the conversation model and the controller that runs an
// analysis session against an AI runtime.
package chat

import (
	"encoding/json"

	"github.com/KaramelBytes/edaloom/internal/dataset"
	"github.com/google/uuid"
)

// Block is one piece of message content. The set of variants is closed:
// TextBlock, ChartBlock and ErrorBlock.
type Block interface {
	Accept(v BlockVisitor) error
	block()
}

// BlockVisitor handles every Block variant. Adding a variant adds a method
// here, so all consumers fail to compile until they handle it.
type BlockVisitor interface {
	VisitText(TextBlock) error
	VisitChart(ChartBlock) error
	VisitError(ErrorBlock) error
}

// TextBlock is markdown text.
type TextBlock struct {
	Text string
}

// ChartBlock is a Vega-Lite specification plus the rows it is drawn from.
// Spec never carries its own data.
type ChartBlock struct {
	Spec map[string]any
	Data []dataset.Row
}

// ErrorBlock is a user-facing failure notice.
type ErrorBlock struct {
	Text string
}

func (TextBlock) block()  {}
func (ChartBlock) block() {}
func (ErrorBlock) block() {}

func (b TextBlock) Accept(v BlockVisitor) error  { return v.VisitText(b) }
func (b ChartBlock) Accept(v BlockVisitor) error { return v.VisitChart(b) }
func (b ErrorBlock) Accept(v BlockVisitor) error { return v.VisitError(b) }

func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}{"text", b.Text})
}

func (b ChartBlock) MarshalJSON() ([]byte, error) {
	data := b.Data
	if data == nil {
		data = []dataset.Row{}
	}
	return json.Marshal(struct {
		Type string         `json:"type"`
		Spec map[string]any `json:"spec"`
		Data []dataset.Row  `json:"data"`
	}{"chart", b.Spec, data})
}

func (b ErrorBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}{"error", b.Text})
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry.
type Message struct {
	ID      string  `json:"id"`
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// NewMessage builds a message with a fresh random id.
func NewMessage(role Role, blocks ...Block) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: blocks}
}

// Conversation is the ordered message list of the current dataset plus the
// latest follow-up suggestions. It is reset wholesale when a new dataset
// loads.
type Conversation struct {
	SessionID   string    `json:"sessionId,omitempty"`
	Messages    []Message `json:"messages"`
	Suggestions []string  `json:"suggestions"`
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// Clone returns a copy whose slices can be read without holding the
// owner's lock. Blocks are immutable values and are shared.
func (c *Conversation) Clone() Conversation {
	out := Conversation{SessionID: c.SessionID}
	out.Messages = append([]Message(nil), c.Messages...)
	out.Suggestions = append([]string(nil), c.Suggestions...)
	return out
}
