package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/ghost-dispatch/internal/llm"
)

// ClientFactory builds a client for one provider model. Callers pass the
// request options their prompt needs.
type ClientFactory func(provider, model string, opts ...llm.Option) (llm.Client, error)

// Entities are the caller details recovered from a transcript. Empty fields
// mean the model found nothing.
type Entities struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

const extractSystemPrompt = `You extract details from transcripts of emergency phone calls.
Reply with a single JSON object with exactly two string fields:
"name": the caller's own name, or "" if they did not give one.
"location": the address, intersection or place the emergency is happening at, or "" if none was given.
Do not guess. Do not add any other text.`

const extractMaxTokens = 256

// Extractor pulls caller name and location out of a transcript with one model.
type Extractor struct {
	model   string
	factory ClientFactory
	sleep   func(context.Context, time.Duration) error
}

func NewExtractor(model string, factory ClientFactory) *Extractor {
	return &Extractor{model: model, factory: factory, sleep: sleepContext}
}

func (e *Extractor) Model() string {
	return e.model
}

func (e *Extractor) Extract(ctx context.Context, transcript string) (Entities, error) {
	provider, model, err := llm.ParseModel(e.model)
	if err != nil {
		return Entities{}, err
	}

	client, err := e.factory(provider, model, llm.WithJSONOutput(), llm.WithMaxTokens(extractMaxTokens))
	if err != nil {
		return Entities{}, fmt.Errorf("create llm client: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: extractSystemPrompt},
		{Role: llm.RoleUser, Content: "Transcript:\n" + transcript},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		if err := ctx.Err(); err != nil {
			return Entities{}, err
		}
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return parseEntities(result)
		}
		lastErr = err
		if attempt < len(backoff) {
			if err := e.sleep(ctx, backoff[attempt]); err != nil {
				return Entities{}, err
			}
		}
	}
	return Entities{}, fmt.Errorf("extract entities failed after retries: %w", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseEntities(raw string) (Entities, error) {
	var ent Entities
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &ent); err != nil {
		return Entities{}, fmt.Errorf("parse entities %q: %w", raw, err)
	}
	ent.Name = cleanField(ent.Name)
	ent.Location = cleanField(ent.Location)
	return ent, nil
}

func cleanField(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "unknown", "none", "n/a", "null":
		return ""
	}
	return s
}
