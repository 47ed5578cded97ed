// Package reportsnapshot parses and normalizes the JSON report object
// the provider is asked to produce, tolerating the common ways a model
// deviates from strict JSON (fenced code blocks, trailing commas,
// unquoted keys).
package reportsnapshot

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var negativeHints = []string{
	"war", "invasion", "battle", "conflict", "epidemic", "pandemic", "plague", "famine",
	"casualty", "death", "earthquake", "flood", "wildfire", "hurricane", "typhoon", "drought",
	"collapse", "explosion", "meltdown", "accident", "outbreak", "sanction", "blockade",
	"战争", "冲突", "瘟疫", "疫情", "饥荒", "死亡", "灾害", "事故", "地震", "洪水", "火灾", "封锁", "制裁",
}

var positiveHints = []string{
	"recovery", "peace", "ceasefire", "breakthrough", "stabilize", "growth", "cooperation",
	"alliance", "prosper", "复苏", "停火", "突破", "增长", "合作", "稳定",
}

var severityHighHints = []string{"mass", "catastrophic", "collapse", "state-wide", "national", "全面", "大规模", "重大", "致命", "灭亡", "全面战争"}
var severityLowHints = []string{"minor", "local", "small", "轻微", "局部", "小规模"}

type Entry struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type Snapshot struct {
	Title          string  `json:"title"`
	TimeAdvance    string  `json:"time_advance"`
	Summary        string  `json:"summary"`
	Events         []Entry `json:"events"`
	Risks          []Entry `json:"risks"`
	TensionPercent int     `json:"tension_percent"`
	CrisisFocus    string  `json:"crisis_focus"`
}

// Parse extracts and normalizes a snapshot from raw model output. It
// returns (nil, false) if no JSON object could be recovered at all.
func Parse(content, fallbackTimeAdvance string) (*Snapshot, bool) {
	normalized := sanitizeReportText(content)
	if normalized == "" {
		return nil, false
	}

	candidates := []string{normalized}
	if extracted := extractJSONObject(normalized); extracted != "" && extracted != normalized {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		payload, ok := loadJSONMapping(candidate)
		if !ok {
			continue
		}
		snap := Normalize(payload, fallbackTimeAdvance)
		return &snap, true
	}
	return nil, false
}

func Normalize(payload map[string]any, fallbackTimeAdvance string) Snapshot {
	title := safeText(payload["title"])
	if title == "" {
		title = "World Report"
	}
	timeAdvance := safeText(payload["time_advance"])
	if timeAdvance == "" {
		timeAdvance = safeText(fallbackTimeAdvance)
	}
	if timeAdvance == "" {
		timeAdvance = "tick"
	}

	events := normalizeEntries(payload["events"], "neutral", "medium")
	risks := normalizeEntries(payload["risks"], "negative", "high")

	summary := safeText(payload["summary"])
	if summary == "" {
		summary = fallbackSummary(events, risks)
	}

	tension, ok := parseTensionPercent(firstNonNil(payload["tension_percent"], payload["tension"], payload["tension_index"]))
	if !ok {
		tension = inferTensionPercent(events, risks)
	}

	crisisFocus := safeText(firstNonNil(payload["crisis_focus"], payload["crisis_focus_event"], payload["focus_event"]))
	if crisisFocus == "" {
		crisisFocus = fallbackCrisisFocus(summary, events, risks)
	}

	return Snapshot{
		Title:          title,
		TimeAdvance:    timeAdvance,
		Summary:        summary,
		Events:         events,
		Risks:          risks,
		TensionPercent: tension,
		CrisisFocus:    crisisFocus,
	}
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func ToStorageJSON(s Snapshot) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseStorageSnapshot(raw string) (*Snapshot, bool) {
	if raw == "" {
		return nil, false
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false
	}
	return &s, true
}

func normalizeEntries(value any, defaultCategory, defaultSeverity string) []Entry {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	rows := make([]Entry, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			description := safeText(v)
			if description == "" {
				continue
			}
			rows = append(rows, Entry{
				Category:    inferCategory(description, defaultCategory),
				Severity:    inferSeverity(description, defaultSeverity),
				Description: description,
			})
		case map[string]any:
			description := safeText(firstNonNil(v["description"], v["detail"], v["content"], v["title"], v["label"]))
			if description == "" {
				continue
			}
			rows = append(rows, Entry{
				Category:    normalizeCategory(v["category"], description, defaultCategory),
				Severity:    normalizeSeverity(v["severity"], description, defaultSeverity),
				Description: description,
			})
		}
	}
	return rows
}

func normalizeCategory(raw any, description, defaultCategory string) string {
	value := strings.ToLower(strings.TrimSpace(safeText(raw)))
	switch value {
	case "positive", "good":
		return "positive"
	case "negative", "bad":
		return "negative"
	case "neutral", "general":
		return "neutral"
	}
	return inferCategory(description, defaultCategory)
}

func normalizeSeverity(raw any, description, defaultSeverity string) string {
	value := strings.ToLower(strings.TrimSpace(safeText(raw)))
	switch value {
	case "low", "minor", "低", "轻微":
		return "low"
	case "medium", "moderate", "中":
		return "medium"
	case "high", "critical", "severe", "高", "严重":
		return "high"
	}
	return inferSeverity(description, defaultSeverity)
}

var validCategories = map[string]bool{"positive": true, "negative": true, "neutral": true}
var validSeverities = map[string]bool{"low": true, "medium": true, "high": true}

func inferCategory(description, defaultCategory string) string {
	text := strings.ToLower(description)
	if containsAny(text, negativeHints) {
		return "negative"
	}
	if containsAny(text, positiveHints) {
		return "positive"
	}
	if validCategories[defaultCategory] {
		return defaultCategory
	}
	return "neutral"
}

func inferSeverity(description, defaultSeverity string) string {
	text := strings.ToLower(description)
	if containsAny(text, severityHighHints) {
		return "high"
	}
	if containsAny(text, severityLowHints) {
		return "low"
	}
	if validSeverities[defaultSeverity] {
		return defaultSeverity
	}
	return "medium"
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

func parseTensionPercent(raw any) (int, bool) {
	if raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return clampPercent(v), true
	case int:
		return clampPercent(float64(v)), true
	case string:
		text := strings.ReplaceAll(strings.TrimSpace(v), "%", "")
		if text == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
		return clampPercent(f), true
	default:
		return 0, false
	}
}

func clampPercent(v float64) int {
	rounded := int(v + 0.5)
	if v < 0 {
		rounded = -int(-v + 0.5)
	}
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func inferTensionPercent(events, risks []Entry) int {
	score := 28.0
	for _, e := range events {
		category := normalizeCategory(e.Category, e.Description, "neutral")
		severity := normalizeSeverity(e.Severity, e.Description, "medium")
		step := 15.0
		switch severity {
		case "low":
			step = 8.0
		case "high":
			step = 24.0
		}
		switch category {
		case "negative":
			score += step
		case "positive":
			score -= step * 0.6
		default:
			score += step * 0.2
		}
	}
	score += float64(len(risks)) * 8
	return clampPercent(score)
}

func fallbackSummary(events, risks []Entry) string {
	for _, row := range append(append([]Entry{}, events...), risks...) {
		if row.Description != "" {
			return firstSentence(row.Description)
		}
	}
	return ""
}

func fallbackCrisisFocus(summary string, events, risks []Entry) string {
	for _, row := range events {
		category := normalizeCategory(row.Category, row.Description, "neutral")
		severity := normalizeSeverity(row.Severity, row.Description, "medium")
		if category == "negative" && severity == "high" {
			return firstSentence(row.Description)
		}
	}
	for _, row := range events {
		if normalizeCategory(row.Category, row.Description, "neutral") == "negative" {
			return firstSentence(row.Description)
		}
	}
	for _, row := range risks {
		if row.Description != "" {
			return firstSentence(row.Description)
		}
	}
	return firstSentence(summary)
}

func safeText(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}

var fencedBlockRe = regexp.MustCompile("(?i)^```(?:json)?\\s*")
var fencedBlockCloseRe = regexp.MustCompile("\\s*```$")

func sanitizeReportText(content string) string {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = fencedBlockRe.ReplaceAllString(raw, "")
		raw = fencedBlockCloseRe.ReplaceAllString(raw, "")
	}
	return strings.TrimSpace(raw)
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

func loadJSONMapping(content string) (map[string]any, bool) {
	for _, candidate := range jsonRepairCandidates(content) {
		var payload map[string]any
		if err := json.Unmarshal([]byte(candidate), &payload); err == nil {
			return payload, true
		}
	}
	return nil, false
}

func jsonRepairCandidates(content string) []string {
	candidates := []string{content}
	repaired := repairJSONObject(content)
	if repaired != content {
		candidates = append(candidates, repaired)
	}
	return candidates
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
var quotedKeyMissingOpenRe = regexp.MustCompile(`([,{]\s*)([A-Za-z_][A-Za-z0-9_]*)"\s*:`)
var unquotedKeyRe = regexp.MustCompile(`([,{]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

func repairJSONObject(content string) string {
	text := trailingCommaRe.ReplaceAllString(content, "$1")
	text = quotedKeyMissingOpenRe.ReplaceAllString(text, `$1"$2":`)
	text = unquotedKeyRe.ReplaceAllString(text, `$1"$2":`)
	return text
}

var sentenceEndRe = regexp.MustCompile(`(.+?[。！？!?.])(\s|$)`)

func firstSentence(text string) string {
	value := safeText(text)
	if value == "" {
		return ""
	}
	sentence := value
	if m := sentenceEndRe.FindStringSubmatch(value); m != nil {
		sentence = strings.TrimSpace(m[1])
	}
	if len([]rune(sentence)) <= 140 {
		return sentence
	}
	runes := []rune(sentence)
	return string(runes[:137]) + "..."
}
