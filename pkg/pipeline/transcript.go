// Package pipeline implements the offline feedback loop: synthesize
// adversarial debtor personalities, simulate conversations against the
// agent's instruction script, and score the script with suggested
// revisions.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/kestrelvoice/kestrel/pkg/core/types"
)

// Role tags one transcript entry.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleDebtor Role = "debtor"
)

// Entry is one utterance in a simulated conversation.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered utterance log of one simulation. The debtor
// always opens; roles then strictly alternate. Append-only during a run,
// immutable afterward.
type Transcript []Entry

// Messages converts the transcript to provider messages. Both sides of a
// simulation share this mapping: the debtor speaks as the user, the agent
// as the assistant.
func (t Transcript) Messages() []types.Message {
	msgs := make([]types.Message, 0, len(t))
	for _, e := range t {
		role := types.RoleUser
		if e.Role == RoleAgent {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.Message{Role: role, Content: e.Content})
	}
	return msgs
}

// Format renders the transcript as "role: content" lines.
func (t Transcript) Format() string {
	var b strings.Builder
	for i, e := range t {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", e.Role, e.Content)
	}
	return b.String()
}

// transcriptSeparator divides independent transcripts in the optimizer
// prompt.
const transcriptSeparator = "\n\n---\n\n"

// FormatAll joins independently formatted transcripts with an explicit
// separator. Per-transcript order is preserved; order across transcripts
// carries no meaning.
func FormatAll(transcripts []Transcript) string {
	parts := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		parts = append(parts, t.Format())
	}
	return strings.Join(parts, transcriptSeparator)
}
