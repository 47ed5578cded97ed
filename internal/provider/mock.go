package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// Mock produces deterministic report text derived from a seed computed
// over the input messages, so tests never depend on network access or
// real model output.
type Mock struct {
	cfg Config
}

func NewMock(cfg Config) *Mock {
	return &Mock{cfg: cfg}
}

func (p *Mock) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fixture-v1", "fixture-v2"}, nil
}

func (p *Mock) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*GenerateResult, error) {
	seed := seedFromMessages(messages)
	tick := scrapeTickLabel(messages)

	tension := int(seed % 100)
	title := fmt.Sprintf("World Report #%d", seed%1000)
	summary := fmt.Sprintf("Round %d unfolds across the simulated world.", seed%1000)

	text := fmt.Sprintf(
		`{"title":%q,"time_advance":%q,"summary":%q,"events":[{"category":"neutral","severity":"medium","description":"A routine development is recorded."}],"risks":[],"tension_percent":%d,"crisis_focus":""}`,
		title, tick, summary, tension,
	)

	tokenIn, tokenOut := len(messages)*10, len(text)/4
	return &GenerateResult{Text: text, TokenIn: &tokenIn, TokenOut: &tokenOut, Raw: text}, nil
}

func seedFromMessages(messages []Message) uint64 {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte(m.Content))
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// scrapeTickLabel pulls the tick label line the prompt builder always
// emits, so the mock's time_advance field tracks the real configuration
// instead of a hardcoded value.
func scrapeTickLabel(messages []Message) string {
	for _, m := range messages {
		for _, line := range strings.Split(m.Content, "\n") {
			const prefix = "Time advance label:"
			if strings.HasPrefix(line, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(line, prefix))
			}
		}
	}
	return "tick"
}
