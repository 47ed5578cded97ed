// Package promptbuilder turns a session snapshot into the provider
// message list. It is a pure function: identical input always yields
// the byte-identical prompt, which is what makes the mock provider's
// output reproducible in tests.
package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/store"
)

const maxHistoryWindow = 20

type EventDiceConfig struct {
	Enabled    bool
	GoodProb   float64
	BadProb    float64
	RebelProb  float64
	MinEvents  int
	MaxEvents  int
	Hemisphere string
}

type Input struct {
	WorldPreset      string
	TickLabel        string
	RecentMessages   []store.TimelineMessage // ascending seq order
	PendingInterventions []store.UserIntervention // ordered by created_at
	MemorySnippets   []string
	OutputLanguage   string
	EventDice        EventDiceConfig
	EventHint        string // optional rendered hint from internal/eventdice
}

// Build composes the system and user messages in the fixed order the
// round loop expects: preset, tick label, memory snippets, recent
// timeline, pending interventions, format reminder, locale instruction.
func Build(in Input) []provider.Message {
	window := in.RecentMessages
	if len(window) > maxHistoryWindow {
		window = window[len(window)-maxHistoryWindow:]
	}

	system := provider.Message{
		Role:    "system",
		Content: systemPrompt(),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "World preset: %s\n", in.WorldPreset)
	fmt.Fprintf(&b, "Time advance label: %s\n", in.TickLabel)

	if len(in.MemorySnippets) > 0 {
		b.WriteString("Relevant memory:\n")
		for _, s := range in.MemorySnippets {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	b.WriteString("Recent timeline:\n")
	if len(window) == 0 {
		b.WriteString("(no prior entries; this is the first round)\n")
	} else {
		for _, m := range window {
			fmt.Fprintf(&b, "[seq %d] %s: %s\n", m.Seq, m.Role, m.Content)
		}
	}

	if len(in.PendingInterventions) > 0 {
		b.WriteString("Pending interventions:\n")
		for _, iv := range in.PendingInterventions {
			fmt.Fprintf(&b, "- %s\n", iv.Content)
		}
	}

	if in.EventHint != "" {
		fmt.Fprintf(&b, "Event guidance: %s\n", in.EventHint)
	}

	b.WriteString("Respond with a single JSON object: {\"title\", \"time_advance\", \"summary\", \"events\":[{\"category\",\"severity\",\"description\"}], \"risks\":[{\"category\",\"severity\",\"description\"}], \"tension_percent\"?, \"crisis_focus\"?}.\n")
	fmt.Fprintf(&b, "Write the report in locale %s.\n", nonEmpty(in.OutputLanguage, "en"))

	user := provider.Message{Role: "user", Content: b.String()}
	return []provider.Message{system, user}
}

func systemPrompt() string {
	return "You are the chronicle engine for an ongoing worldline simulation. " +
		"Produce one objective, continuous world progress report per round as a JSON object. " +
		"Do not break character, do not add commentary outside the JSON object."
}

func nonEmpty(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
