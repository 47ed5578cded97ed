package eventdice

import (
	"math/rand/v2"
	"testing"

	"github.com/suPer8Hu/worldline/internal/store"
)

func TestBuildDisabledReturnsMinimalPlan(t *testing.T) {
	cfg := Config{Enabled: false}
	rng := rand.New(rand.NewPCG(1, 2))
	plan := Build(cfg, BuildParams{TimelineStepValue: 1, TimelineStepUnit: "month", NextSeq: 1}, rng)
	if plan.Enabled {
		t.Fatalf("expected disabled plan")
	}
	if plan.TargetEventCount != 1 {
		t.Fatalf("expected target 1 when disabled, got %d", plan.TargetEventCount)
	}
}

func TestBuildRespectsEventCountBounds(t *testing.T) {
	cfg := Config{
		Enabled: true, GoodProb: 0.25, BadProb: 0.15, RebelProb: 0.1,
		MinEvents: 2, MaxEvents: 4, DefaultHemisphere: "north",
	}
	rng := rand.New(rand.NewPCG(42, 7))
	plan := Build(cfg, BuildParams{
		TimelineStepValue: 1, TimelineStepUnit: "month", NextSeq: 5, OutputLanguage: "en",
	}, rng)
	if plan.TargetEventCount < 2 || plan.TargetEventCount > 4 {
		t.Fatalf("target event count %d out of bounds [2,4]", plan.TargetEventCount)
	}
	if len(plan.Slots) != plan.TargetEventCount {
		t.Fatalf("expected %d slots, got %d", plan.TargetEventCount, len(plan.Slots))
	}
}

func TestInferGeopoliticalHintDetectsTension(t *testing.T) {
	timeline := []store.TimelineMessage{
		{Content: "war breaks out, sanctions imposed, conflict escalates, riot spreads, blockade enforced, crisis deepens"},
	}
	hint := inferGeopoliticalHint(timeline)
	if hint != "International conditions are tense with rising confrontation signals." {
		t.Fatalf("unexpected hint: %q", hint)
	}
}

func TestChooseCrisisFocusMatchesKeyword(t *testing.T) {
	timeline := []store.TimelineMessage{{Content: "a sudden famine strikes the region after crop failure"}}
	rng := rand.New(rand.NewPCG(1, 1))
	focus := chooseCrisisFocus(timeline, "Current season is summer in the northern hemisphere.", "mixed", "en", rng)
	if focus != "famine" {
		t.Fatalf("expected famine, got %q", focus)
	}
}
