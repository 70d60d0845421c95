package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/redraft/core"
)

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	overallPattern    = regexp.MustCompile(`(?i)overall\s*(?:score)?:?\s*(\d+(?:\.\d+)?)\s*(?:/\s*10)?`)
	summaryPattern    = regexp.MustCompile(`(?is)(?:summary|overall assessment):?\s*(.+?)(?:\n\n|\n#|$)`)
	fallbackPattern   = regexp.MustCompile(`\b([1-9]|10)(?:\.\d+)?\b`)
)

// Parse extracts a structured evaluation from an agent's raw response.
//
// Three strategies run in order until one yields scores:
//  1. JSON extraction: a fenced json code block, else the first balanced
//     {...} object; the evaluation may live in an "evaluation" sub-object
//     or at the root.
//  2. Natural-language matching: "<criterion>: 7/10" style patterns, one per
//     expected criterion, with trailing line text as justification.
//  3. Positional fallback: standalone integers 1 through 10 zipped against
//     the expected criteria in order.
//
// When every strategy fails Parse returns a nil evaluation and an error
// describing the failure. Absence of an evaluation is a normal outcome:
// callers record the message on the turn and continue.
func Parse(raw string, expectedCriteria []string) (*core.Evaluation, error) {
	if eval, _ := tryJSONExtraction(raw); eval != nil {
		return eval, nil
	}
	if eval := tryNaturalLanguage(raw, expectedCriteria); eval != nil {
		return eval, nil
	}
	if eval := tryFallbackExtraction(raw, expectedCriteria); eval != nil {
		return eval, nil
	}

	return nil, errors.New("Failed to parse evaluation: No extractable scores found")
}

// tryJSONExtraction looks for a fenced json block first; a fenced block that
// fails to decode ends the JSON strategy rather than falling through to the
// balanced-brace scan.
func tryJSONExtraction(raw string) (*core.Evaluation, error) {
	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		var data map[string]any
		if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
			return nil, fmt.Errorf("JSON decode error: %v", err)
		}
		return fromJSONTree(data)
	}

	if obj, ok := firstBalancedObject(raw); ok {
		var data map[string]any
		if err := json.Unmarshal([]byte(obj), &data); err == nil {
			return fromJSONTree(data)
		}
	}

	return nil, errors.New("No valid JSON found")
}

// firstBalancedObject returns the substring spanning the first '{' and its
// matching '}'. Braces inside string literals are counted too; responses that
// trip on that fail JSON decoding and fall through to the next strategy.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// fromJSONTree reads an evaluation out of a decoded JSON object. Missing keys
// are treated as absent rather than as errors, but an object carrying neither
// criterion scores nor an overall score is not an evaluation at all.
func fromJSONTree(data map[string]any) (*core.Evaluation, error) {
	evalData := data
	if sub, ok := data["evaluation"].(map[string]any); ok {
		evalData = sub
	}

	var scores []core.CriterionScore
	if list, ok := evalData["criteria_scores"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, errors.New("JSON structure error: criteria_scores entry is not an object")
			}
			name, ok := entry["criterion"].(string)
			if !ok {
				return nil, errors.New("JSON structure error: criterion name missing")
			}
			score, ok := asFloat(entry["score"])
			if !ok {
				return nil, errors.New("JSON structure error: score is not numeric")
			}
			justification, _ := entry["justification"].(string)
			scores = append(scores, core.CriterionScore{
				Criterion:     name,
				Score:         score,
				Justification: justification,
			})
		}
	}

	overall, _ := asFloat(evalData["overall_score"])
	summary, _ := evalData["summary"].(string)

	if len(scores) == 0 && overall == 0 {
		return nil, errors.New("No evaluation content in JSON")
	}
	if overall == 0 {
		overall = meanScore(scores)
	}

	return &core.Evaluation{
		CriteriaScores: scores,
		OverallScore:   overall,
		Summary:        summary,
	}, nil
}

// tryNaturalLanguage matches "<criterion>: 7/10" per expected criterion,
// case-insensitively, harvesting the rest of the line as justification.
func tryNaturalLanguage(raw string, expectedCriteria []string) *core.Evaluation {
	var scores []core.CriterionScore

	for _, criterion := range expectedCriteria {
		pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(criterion) + `\s*:?\s*(\d+(?:\.\d+)?)\s*(?:/\s*10)?`)
		loc := pattern.FindStringSubmatchIndex(raw)
		if loc == nil {
			continue
		}
		score, err := strconv.ParseFloat(raw[loc[2]:loc[3]], 64)
		if err != nil || score > 10 {
			continue
		}

		justification := ""
		rest := raw[loc[1]:]
		if len(rest) > 200 {
			rest = rest[:200]
		}
		if strings.TrimSpace(rest) != "" {
			line, _, _ := strings.Cut(rest, "\n")
			justification = strings.Trim(line, ": -")
		}

		scores = append(scores, core.CriterionScore{
			Criterion:     criterion,
			Score:         score,
			Justification: justification,
		})
	}

	if len(scores) == 0 {
		return nil
	}

	overall := meanScore(scores)
	if m := overallPattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			overall = v
		}
	}

	summary := ""
	if m := summaryPattern.FindStringSubmatch(raw); m != nil {
		summary = strings.TrimSpace(m[1])
	}

	return &core.Evaluation{
		CriteriaScores: scores,
		OverallScore:   overall,
		Summary:        summary,
	}
}

// tryFallbackExtraction zips any standalone integers 1 through 10 against the
// expected criteria in order. Scores recovered this way carry a fixed
// auto-extraction marker so downstream consumers can tell them apart from
// deliberate ones.
func tryFallbackExtraction(raw string, expectedCriteria []string) *core.Evaluation {
	if len(expectedCriteria) == 0 {
		return nil
	}

	matches := fallbackPattern.FindAllStringSubmatch(raw, len(expectedCriteria))
	if len(matches) == 0 {
		return nil
	}

	scores := make([]core.CriterionScore, 0, len(matches))
	for i, m := range matches {
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		scores = append(scores, core.CriterionScore{
			Criterion:     expectedCriteria[i],
			Score:         score,
			Justification: "(Auto-extracted)",
		})
	}
	if len(scores) == 0 {
		return nil
	}

	return &core.Evaluation{
		CriteriaScores: scores,
		OverallScore:   meanScore(scores),
		Summary:        "(Scores extracted via fallback parsing)",
	}
}

// WeightedScore computes a weighted mean over the evaluation's criterion
// scores. Criteria missing from weights carry weight 1.0; a zero total weight
// falls back to the evaluation's own overall score.
func WeightedScore(eval core.Evaluation, weights map[string]float64) float64 {
	var totalWeight, weightedSum float64

	for _, cs := range eval.CriteriaScores {
		weight, ok := weights[cs.Criterion]
		if !ok {
			weight = 1.0
		}
		weightedSum += cs.Score * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return eval.OverallScore
	}
	return weightedSum / totalWeight
}

func meanScore(scores []core.CriterionScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, cs := range scores {
		sum += cs.Score
	}
	return sum / float64(len(scores))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
