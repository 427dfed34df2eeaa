// Package history holds the canonical conversation record the agent core
// builds requests from. Providers never mutate it; adapters read a snapshot
// and encode it into their wire format.
package history

import (
	"github.com/pywen-ai/pywen/pkg/models"
)

// Conversation is an append-only message list whose first item is always the
// single system message. It is not safe for concurrent use; the agent owns it
// for the lifetime of a task.
type Conversation struct {
	messages []models.Message
}

// New returns a conversation seeded with the system message.
func New(systemText string) *Conversation {
	return &Conversation{
		messages: []models.Message{models.SystemMessage(systemText)},
	}
}

// ReplaceSystem swaps the system message in place. Everything after index 0
// is untouched, so the prompt can be recomposed between tasks without losing
// the transcript.
func (c *Conversation) ReplaceSystem(systemText string) {
	c.messages[0] = models.SystemMessage(systemText)
}

// System returns the current system text.
func (c *Conversation) System() string {
	return c.messages[0].Content
}

// Append adds one message to the transcript.
func (c *Conversation) Append(msg models.Message) {
	c.messages = append(c.messages, msg)
}

// Extend adds messages in order.
func (c *Conversation) Extend(msgs []models.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages including the system message.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Snapshot returns a copy of the transcript safe to hand to adapters while
// the conversation keeps growing.
func (c *Conversation) Snapshot() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Clone returns an independent conversation with the same transcript.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{messages: c.Snapshot()}
}

// LastAssistant returns the most recent assistant message, or false when the
// transcript has none.
func (c *Conversation) LastAssistant() (models.Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == models.RoleAssistant {
			return c.messages[i], true
		}
	}
	return models.Message{}, false
}
