package session

import (
	"fmt"

	"github.com/ashureev/warmtransfer/internal/domain"
)

// DefaultPlaceholderTranscript is summarized when a transfer starts before any
// utterance was captured, so a transfer can always produce a summary.
var DefaultPlaceholderTranscript = []string{
	"caller: Hi, I'm calling because I was charged twice for my last order.",
	"agent_a: Thanks for reaching out. I can see two charges on the account.",
	"caller: I'd like the duplicate refunded, and I want to know it won't happen again.",
	"agent_a: I'm bringing in a billing specialist who can process the refund for you.",
}

func transcriptLines(entries []domain.TranscriptEntry, placeholder []string) []string {
	if len(entries) == 0 {
		out := make([]string, len(placeholder))
		copy(out, placeholder)
		return out
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Line())
	}
	return out
}

func fallbackSummary(roomName string, role domain.Role, captured int) string {
	source := fmt.Sprintf("%d captured transcript entries", captured)
	if captured == 0 {
		source = "no captured transcript (placeholder conversation used)"
	}
	return fmt.Sprintf(
		"Automatic summary unavailable. Warm transfer requested by %s in room %q with %s. "+
			"Brief the receiving agent on the caller's needs and current status before leaving.",
		role, roomName, source,
	)
}
