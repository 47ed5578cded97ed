package reportsnapshot

import "testing"

func TestParseFencedJSON(t *testing.T) {
	content := "```json\n{\"title\":\"A\",\"time_advance\":\"1 month\",\"summary\":\"ok\",\"events\":[],\"risks\":[]}\n```"
	snap, ok := Parse(content, "tick")
	if !ok {
		t.Fatalf("expected successful parse")
	}
	if snap.Title != "A" || snap.TimeAdvance != "1 month" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestParseRepairsTrailingCommaAndUnquotedKeys(t *testing.T) {
	content := `{title: "A", summary: "ok", events: [{category: "negative", severity: "high", description: "a war erupts"},],}`
	snap, ok := Parse(content, "tick")
	if !ok {
		t.Fatalf("expected successful repair-parse")
	}
	if len(snap.Events) != 1 || snap.Events[0].Category != "negative" {
		t.Fatalf("unexpected events: %+v", snap.Events)
	}
}

func TestParseReturnsFalseForNonJSON(t *testing.T) {
	_, ok := Parse("just plain prose, no json here", "tick")
	if ok {
		t.Fatalf("expected no parse for non-JSON content")
	}
}

func TestInferCategorySeverityFromDescription(t *testing.T) {
	events := normalizeEntries([]any{"a catastrophic earthquake devastates the coast"}, "neutral", "medium")
	if len(events) != 1 {
		t.Fatalf("expected one event")
	}
	if events[0].Category != "negative" {
		t.Fatalf("expected negative category, got %s", events[0].Category)
	}
	if events[0].Severity != "high" {
		t.Fatalf("expected high severity, got %s", events[0].Severity)
	}
}

func TestTensionPercentClampedAndInferred(t *testing.T) {
	p, ok := parseTensionPercent("150%")
	if !ok || p != 100 {
		t.Fatalf("expected clamp to 100, got %d ok=%v", p, ok)
	}
	p, ok = parseTensionPercent("-20")
	if !ok || p != 0 {
		t.Fatalf("expected clamp to 0, got %d ok=%v", p, ok)
	}
}

func TestFirstSentenceTruncatesLongText(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	got := firstSentence(long)
	if len(got) != 140 {
		t.Fatalf("expected truncated length 140, got %d", len(got))
	}
}
