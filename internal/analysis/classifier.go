package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sjawhar/ghost-dispatch/internal/llm"
	"github.com/sjawhar/ghost-dispatch/internal/priority"
)

const classifyMaxTokens = 32

// EmergencyClassifier picks one emergency type label for a transcript.
// Every failure degrades to an empty label.
type EmergencyClassifier struct {
	model   string
	factory ClientFactory
	labels  []string
}

func NewEmergencyClassifier(model string, factory ClientFactory) *EmergencyClassifier {
	return &EmergencyClassifier{model: model, factory: factory, labels: priority.EmergencyTypes}
}

// SampleTranscript keeps the head, middle and tail of long transcripts.
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

func (c *EmergencyClassifier) Classify(ctx context.Context, transcript string) string {
	sampled := SampleTranscript(transcript, 300, 200, 200)

	var labelList strings.Builder
	for _, label := range c.labels {
		fmt.Fprintf(&labelList, "- %s\n", strings.ToLower(label))
	}

	prompt := fmt.Sprintf(`Classify this emergency call transcript.

Transcript:
%s

Labels:
%s
Reply with ONLY the single best label, nothing else.`, sampled, labelList.String())

	provider, model, err := llm.ParseModel(c.model)
	if err != nil {
		slog.Warn("classifier: no emergency type", "reason", "parse model failed", "error", err)
		return ""
	}

	client, err := c.factory(provider, model, llm.WithMaxTokens(classifyMaxTokens))
	if err != nil {
		slog.Warn("classifier: no emergency type", "reason", "create client failed", "error", err)
		return ""
	}

	result, err := client.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		slog.Warn("classifier: no emergency type", "reason", "llm complete failed", "error", err)
		return ""
	}

	if label, ok := c.match(result); ok {
		return label
	}

	slog.Warn("classifier: no emergency type", "reason", "label not recognised", "chosen", result)
	return ""
}

func (c *EmergencyClassifier) match(raw string) (string, bool) {
	chosen := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `."'`))
	for _, label := range c.labels {
		if chosen == strings.ToLower(label) {
			return titleCase(chosen), true
		}
	}
	return "", false
}

// Casers are stateful, so each call gets its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
