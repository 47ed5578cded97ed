// Package eventdice plans a stochastic mix of event categories,
// severities, and topics for one simulation round, nudging (not
// dictating) what the model is asked to write about.
package eventdice

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/suPer8Hu/worldline/internal/store"
)

type Category string
type Severity string

const (
	CategoryPositive Category = "positive"
	CategoryNegative Category = "negative"
	CategoryNeutral  Category = "neutral"

	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Slot struct {
	Category   Category
	Severity   Severity
	Topic      string
	Rebellious bool
}

type Plan struct {
	Enabled           bool
	TargetEventCount  int
	PositiveMinCount  int
	NegativeMinCount  int
	NeutralMinCount   int
	CrisisFocus       string
	Slots             []Slot
	SeasonHint        string
	GeopoliticalHint  string
	ScaleHint         string
	IntervalHint      string
}

type Config struct {
	Enabled           bool
	GoodProb          float64
	BadProb           float64
	RebelProb         float64
	MinEvents         int
	MaxEvents         int
	DefaultHemisphere string
}

type BuildParams struct {
	Timeline          []store.TimelineMessage
	TimelineStartISO  string
	TimelineStepValue int
	TimelineStepUnit  string
	NextSeq           int
	OutputLanguage    string
}

// Build plans one round's event mix. A fresh *rand.Rand must be supplied
// per call so results are reproducible in tests that seed it explicitly.
func Build(cfg Config, p BuildParams, rng *rand.Rand) Plan {
	interval := fmt.Sprintf("%d %s", p.TimelineStepValue, p.TimelineStepUnit)
	if !cfg.Enabled {
		return Plan{
			Enabled:          false,
			TargetEventCount: 1,
			NeutralMinCount:  1,
			SeasonHint:       "No season hint.",
			GeopoliticalHint: "No geopolitical pressure hint.",
			ScaleHint:        "No scale hint.",
			IntervalHint:     interval,
		}
	}

	minEvents := maxInt(1, cfg.MinEvents)
	maxEvents := maxInt(minEvents, cfg.MaxEvents)
	goodProb := clampProb(cfg.GoodProb)
	badProb := clampProb(cfg.BadProb)
	rebelProb := clampProb(cfg.RebelProb)
	hemisphere := strings.ToLower(strings.TrimSpace(cfg.DefaultHemisphere))
	if hemisphere == "" {
		hemisphere = "north"
	}

	target := minEvents + rng.IntN(maxEvents-minEvents+1)
	positiveHit := rng.Float64() < goodProb
	negativeHit := rng.Float64() < badProb

	positiveMin, negativeMin := 0, 0
	if positiveHit {
		positiveMin = 1
	}
	if negativeHit {
		negativeMin = 1
	}
	for positiveMin+negativeMin > target {
		switch {
		case negativeMin > 0:
			negativeMin--
		case positiveMin > 0:
			positiveMin--
		}
	}
	neutralMin := maxInt(0, target-positiveMin-negativeMin)
	if positiveMin == 0 && negativeMin == 0 && neutralMin == 0 {
		neutralMin = 1
	}

	simulatedTime := computeSimulatedTime(p.TimelineStartISO, p.TimelineStepValue, p.TimelineStepUnit, p.NextSeq)
	seasonHint := seasonHint(simulatedTime, hemisphere)
	geoHint := inferGeopoliticalHint(p.Timeline)
	scaleHint := buildScaleHint(p.TimelineStepValue, p.TimelineStepUnit)
	crisisFocus := chooseCrisisFocus(p.Timeline, seasonHint, geoHint, p.OutputLanguage, rng)

	categories := rollCategories(target, positiveMin, negativeMin, neutralMin, goodProb, badProb, geoHint, rng)

	slots := make([]Slot, 0, len(categories))
	for _, cat := range categories {
		rebellious := (cat == CategoryPositive || cat == CategoryNegative) && rng.Float64() < rebelProb
		topic := crisisFocus
		if rebellious {
			topic = chooseRebelTopic(crisisFocus, p.OutputLanguage, rng)
		}
		severity := rollSeverity(cat, p.TimelineStepValue, p.TimelineStepUnit, rng)
		slots = append(slots, Slot{Category: cat, Severity: severity, Topic: topic, Rebellious: rebellious})
	}

	return Plan{
		Enabled:          true,
		TargetEventCount: target,
		PositiveMinCount: positiveMin,
		NegativeMinCount: negativeMin,
		NeutralMinCount:  neutralMin,
		CrisisFocus:      crisisFocus,
		Slots:            slots,
		SeasonHint:       seasonHint,
		GeopoliticalHint: geoHint,
		ScaleHint:        scaleHint,
		IntervalHint:     interval,
	}
}

// Hint renders the plan into the one-line guidance string the prompt
// builder embeds in the user message.
func (p Plan) Hint() string {
	if !p.Enabled {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s Aim for about %d events (>=%d positive, >=%d negative, >=%d neutral).",
		p.SeasonHint, p.GeopoliticalHint, p.ScaleHint, p.TargetEventCount, p.PositiveMinCount, p.NegativeMinCount, p.NeutralMinCount)
	if p.CrisisFocus != "" {
		fmt.Fprintf(&b, " Consider a possible focus on: %s.", p.CrisisFocus)
	}
	return b.String()
}

func clampProb(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func computeSimulatedTime(startISO string, stepValue int, stepUnit string, nextSeq int) time.Time {
	baseline := parseISOOrNow(startISO)
	offset := maxInt(0, nextSeq-1) * maxInt(1, stepValue)
	unit := strings.ToLower(strings.TrimSpace(stepUnit))
	switch unit {
	case "day":
		return baseline.AddDate(0, 0, offset)
	case "week":
		return baseline.AddDate(0, 0, offset*7)
	case "year":
		return addYears(baseline, offset)
	default:
		return addMonths(baseline, offset)
	}
}

func parseISOOrNow(value string) time.Time {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Now().UTC()
	}
	raw = strings.ReplaceAll(raw, "Z", "+00:00")
	parsed, err := time.Parse("2006-01-02T15:04:05Z07:00", raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, raw)
	}
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func addMonths(src time.Time, months int) time.Time {
	return src.AddDate(0, months, 0)
}

func addYears(src time.Time, years int) time.Time {
	return src.AddDate(years, 0, 0)
}

func seasonHint(t time.Time, hemisphere string) string {
	north := map[time.Month]string{
		time.December: "winter", time.January: "winter", time.February: "winter",
		time.March: "spring", time.April: "spring", time.May: "spring",
		time.June: "summer", time.July: "summer", time.August: "summer",
		time.September: "autumn", time.October: "autumn", time.November: "autumn",
	}
	south := map[time.Month]string{
		time.December: "summer", time.January: "summer", time.February: "summer",
		time.March: "autumn", time.April: "autumn", time.May: "autumn",
		time.June: "winter", time.July: "winter", time.August: "winter",
		time.September: "spring", time.October: "spring", time.November: "spring",
	}
	var season string
	hemiLabel := "northern"
	if hemisphere == "south" {
		season = south[t.Month()]
		hemiLabel = "southern"
	} else {
		season = north[t.Month()]
	}
	return fmt.Sprintf("Current season is %s in the %s hemisphere.", season, hemiLabel)
}

func inferGeopoliticalHint(timeline []store.TimelineMessage) string {
	if len(timeline) == 0 {
		return "Global conditions are uncertain but not yet escalated."
	}
	tail := timeline
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	var joined strings.Builder
	for _, m := range tail {
		joined.WriteString(strings.ToLower(m.Content))
		joined.WriteString(" ")
	}
	text := joined.String()

	tensionWords := []string{"war", "sanction", "conflict", "riot", "blockade", "crisis"}
	cooperationWords := []string{"treaty", "alliance", "ceasefire", "trade", "cooperation", "summit"}

	tensionScore := countOccurrences(text, tensionWords)
	cooperationScore := countOccurrences(text, cooperationWords)

	if tensionScore >= cooperationScore+2 {
		return "International conditions are tense with rising confrontation signals."
	}
	if cooperationScore >= tensionScore+2 {
		return "International conditions lean toward temporary coordination and diplomacy."
	}
	return "International conditions are mixed, with both friction and cooperation."
}

func countOccurrences(text string, words []string) int {
	total := 0
	for _, w := range words {
		total += strings.Count(text, w)
	}
	return total
}

func normalizeLanguage(code string) string {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
	switch norm {
	case "zh", "zh-cn", "zh-hans":
		return "zh-cn"
	}
	return "en"
}

func topicCatalog(language string) []string {
	if normalizeLanguage(language) == "zh-cn" {
		return []string{"战争", "饥荒", "瘟疫", "金融危机", "干旱", "自然灾害", "人为灾害", "事故", "政治动荡", "技术突破"}
	}
	return []string{"war", "famine", "epidemic", "financial crisis", "drought", "natural disaster", "man-made disaster", "major accident", "political turmoil", "technology breakthrough"}
}

func chooseCrisisFocus(timeline []store.TimelineMessage, seasonHint, geoHint, outputLanguage string, rng *rand.Rand) string {
	language := normalizeLanguage(outputLanguage)
	topics := topicCatalog(language)

	tail := timeline
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	var b strings.Builder
	for _, m := range tail {
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	text := strings.ToLower(b.String())
	season := strings.ToLower(seasonHint)
	geo := strings.ToLower(geoHint)

	hit := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}

	if language == "zh-cn" {
		switch {
		case hit("战争", "战事", "入侵", "冲突", "制裁") || strings.Contains(geo, "tense"):
			return "战争"
		case hit("饥荒", "歉收", "粮", "断粮") || strings.Contains(season, "drought"):
			return "饥荒"
		case hit("瘟疫", "疫病", "感染", "隔离"):
			return "瘟疫"
		case hit("金融", "通胀", "崩盘", "挤兑"):
			return "金融危机"
		case hit("地震", "洪水", "台风", "暴雨", "火山", "雪灾"):
			return "自然灾害"
		case hit("爆炸", "污染", "泄漏", "事故"):
			return "事故"
		case hit("政变", "叛乱", "示威", "动荡"):
			return "政治动荡"
		default:
			return topics[rng.IntN(len(topics))]
		}
	}

	switch {
	case hit("war", "invasion", "conflict", "sanction", "riot") || strings.Contains(geo, "tense"):
		return "war"
	case hit("famine", "hunger", "crop failure") || strings.Contains(season, "drought"):
		return "famine"
	case hit("epidemic", "plague", "infection", "quarantine"):
		return "epidemic"
	case hit("inflation", "bank run", "default", "crash"):
		return "financial crisis"
	case hit("earthquake", "flood", "hurricane", "wildfire", "eruption"):
		return "natural disaster"
	case hit("explosion", "leak", "accident", "collapse"):
		return "major accident"
	case hit("coup", "uprising", "protest", "turmoil"):
		return "political turmoil"
	default:
		return topics[rng.IntN(len(topics))]
	}
}

func chooseRebelTopic(crisisFocus, outputLanguage string, rng *rand.Rand) string {
	topics := topicCatalog(outputLanguage)
	candidates := make([]string, 0, len(topics))
	for _, t := range topics {
		if t != crisisFocus {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return crisisFocus
	}
	return candidates[rng.IntN(len(candidates))]
}

func rollCategories(target, positiveMin, negativeMin, neutralMin int, goodProb, badProb float64, geoHint string, rng *rand.Rand) []Category {
	categories := make([]Category, 0, target)
	for i := 0; i < positiveMin; i++ {
		categories = append(categories, CategoryPositive)
	}
	for i := 0; i < negativeMin; i++ {
		categories = append(categories, CategoryNegative)
	}
	for i := 0; i < neutralMin; i++ {
		categories = append(categories, CategoryNeutral)
	}

	remaining := target - len(categories)
	if remaining <= 0 {
		shuffle(categories, rng)
		return categories[:target]
	}

	geo := strings.ToLower(geoHint)
	tensionBoost := 0.0
	if strings.Contains(geo, "tense") || strings.Contains(geo, "confrontation") {
		tensionBoost = 0.10
	}
	wPos := math.Max(0.05, goodProb)
	wNeg := math.Max(0.05, badProb+tensionBoost)
	wNeu := math.Max(0.10, 1.0-(wPos+wNeg)/2.0)
	total := wPos + wNeg + wNeu
	if total <= 0 {
		wPos, wNeg, wNeu, total = 0.2, 0.2, 0.6, 1.0
	}
	wPos, wNeg, wNeu = wPos/total, wNeg/total, wNeu/total

	for i := 0; i < remaining; i++ {
		pick := rng.Float64()
		switch {
		case pick < wPos:
			categories = append(categories, CategoryPositive)
		case pick < wPos+wNeg:
			categories = append(categories, CategoryNegative)
		default:
			categories = append(categories, CategoryNeutral)
		}
	}

	shuffle(categories, rng)
	if len(categories) > target {
		return categories[:target]
	}
	return categories
}

func shuffle(s []Category, rng *rand.Rand) {
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// rollSeverity buckets a normal sample into low/medium/high, biased
// toward medium, shifted by category and by the interval's time scale.
func rollSeverity(category Category, stepValue int, stepUnit string, rng *rand.Rand) Severity {
	unit := strings.ToLower(strings.TrimSpace(stepUnit))
	value := maxInt(1, stepValue)
	mu := -0.15
	switch unit {
	case "day":
		mu = -0.60
	case "week":
		mu = -0.35
	case "month":
		mu = -0.10
	case "year":
		mu = 0.25
	}
	mu += math.Min(0.35, 0.15*math.Log10(float64(value+1)))

	switch category {
	case CategoryNegative:
		mu += 0.10
	case CategoryPositive:
		mu += 0.05
	default:
		mu -= 0.10
	}

	sigma := 0.85
	z := mu + sigma*rng.NormFloat64()

	switch {
	case z < -0.25:
		return SeverityLow
	case z < 0.70:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func buildScaleHint(stepValue int, stepUnit string) string {
	value := maxInt(1, stepValue)
	unit := strings.ToLower(strings.TrimSpace(stepUnit))
	days := intervalToDays(value, unit)
	switch {
	case days <= 2:
		return "Very short interval: avoid civilizational shocks; focus on local and incremental changes."
	case days <= 14:
		return "Short interval: major strategic shifts are rare; focus on emerging signals and limited incidents."
	case days <= 90:
		return "Medium interval: regional escalations or reforms can happen if well justified."
	case days <= 370:
		return "Long interval: large policy turns, regime changes, or state fragmentation become plausible."
	default:
		return "Very long interval: transformative geopolitical and civilizational shifts are plausible."
	}
}

func intervalToDays(stepValue int, stepUnit string) int {
	switch stepUnit {
	case "day":
		return stepValue
	case "week":
		return stepValue * 7
	case "year":
		return stepValue * 365
	default:
		return stepValue * 30
	}
}
