package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HeuristicInterpreter is an offline PolicyInterpreter. It pulls day counts out
// of sentences that talk about returns or exchanges so the rest of the app
// works without a model behind it.
type HeuristicInterpreter struct{}

func NewHeuristicInterpreter() *HeuristicInterpreter { return &HeuristicInterpreter{} }

var (
	dayCount  = regexp.MustCompile(`\b(\d{1,3}|[a-z]+(?:[- ][a-z]+)?)[\s-]*(?:\(\d{1,3}\)\s*)?(?:calendar\s+|business\s+)?days?\b`)
	sentences = regexp.MustCompile(`[.!?\n;]+`)
)

var numberWords = map[string]int{
	"seven": 7, "ten": 10, "fourteen": 14, "fifteen": 15, "twenty": 20, "twenty-one": 21,
	"twenty one": 21, "thirty": 30, "forty-five": 45, "forty five": 45, "sixty": 60,
	"ninety": 90, "one hundred": 100, "hundred": 100,
}

// InterpretPolicy returns the first return and exchange day counts found.
// Timeout: 8s.
func (h *HeuristicInterpreter) InterpretPolicy(ctx context.Context, req PolicyRequest) (PolicyTerms, error) {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	var terms PolicyTerms
	for _, s := range sentences.Split(strings.ToLower(req.Text), -1) {
		if err := ctx.Err(); err != nil {
			return PolicyTerms{}, err
		}
		days, ok := firstDayCount(s)
		if !ok {
			continue
		}
		if terms.ExchangeWindowDays == nil && strings.Contains(s, "exchange") {
			terms.ExchangeWindowDays = intPtr(days)
		}
		if terms.ReturnWindowDays == nil && (strings.Contains(s, "return") || strings.Contains(s, "refund")) {
			terms.ReturnWindowDays = intPtr(days)
		}
	}

	var found []string
	if terms.ReturnWindowDays != nil {
		found = append(found, "returns within "+pluralize(*terms.ReturnWindowDays, "day"))
	}
	if terms.ExchangeWindowDays != nil {
		found = append(found, "exchanges within "+pluralize(*terms.ExchangeWindowDays, "day"))
	}
	switch len(found) {
	case 2:
		terms.Confidence = 0.8
	case 1:
		terms.Confidence = 0.6
	default:
		terms.Reasoning = "no window stated"
		return terms, nil
	}
	terms.Reasoning = strings.Join(found, ", ")
	return terms, nil
}

func firstDayCount(sentence string) (int, bool) {
	for _, m := range dayCount.FindAllStringSubmatch(sentence, -1) {
		word := m[1]
		if n, err := strconv.Atoi(word); err == nil && n > 0 {
			return n, true
		}
		if n, ok := numberWords[word]; ok {
			return n, true
		}
		// "within thirty" matched as a two-word group
		if i := strings.LastIndexAny(word, " -"); i >= 0 {
			if n, ok := numberWords[word[i+1:]]; ok {
				return n, true
			}
		}
	}
	return 0, false
}

func intPtr(n int) *int { return &n }

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
