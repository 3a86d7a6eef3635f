package recommendation

import (
	"regexp"
	"strconv"
	"strings"
)

type Method struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Cost     string `json:"cost,omitempty"`
	Accuracy string `json:"accuracy,omitempty"`
	Ease     string `json:"ease,omitempty"`
}

type IndicatorRecommendation struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Definition string   `json:"definition,omitempty"`
	Cost       string   `json:"cost,omitempty"`
	Accuracy   string   `json:"accuracy,omitempty"`
	Ease       string   `json:"ease,omitempty"`
	Methods    []Method `json:"methods"`
}

// Parser turns free-form recommendation text into indicators. Parsing is
// lossy: text without a recognisable structure yields an empty slice.
type Parser interface {
	Parse(text string) []IndicatorRecommendation
}

var (
	indicatorHeader = regexp.MustCompile(`(?i)^[\s#>*\-\d.)]*\**\s*indicator\s*(?:#|id)?\s*(\d*)\s*\**\s*[:\-–]\s*\**\s*(.+?)\s*\**\s*$`)
	numberedBold    = regexp.MustCompile(`^\s*(\d+)[.)]\s+\*\*(.+?)\*\*\s*:?\s*(.*)$`)
	attribute       = regexp.MustCompile(`(?i)^\s*[-*•]?\s*\**\s*(definition|description|cost|accuracy|ease(?: of use)?|methods?)\s*\**\s*[:\-–]\s*\**\s*(.*)$`)
	bullet          = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	ratingPair      = regexp.MustCompile(`(?i)\b(cost|accuracy|ease)\s*[:=]\s*([A-Za-z]+)`)
	parenthetical   = regexp.MustCompile(`\s*\(.*\)\s*$`)
)

type regexParser struct{}

func NewParser() Parser {
	return &regexParser{}
}

func (p *regexParser) Parse(text string) []IndicatorRecommendation {
	var (
		out       []IndicatorRecommendation
		current   *IndicatorRecommendation
		inMethods bool
	)

	flush := func() {
		if current != nil && current.Name != "" {
			if current.Methods == nil {
				current.Methods = []Method{}
			}
			out = append(out, *current)
		}
		current = nil
		inMethods = false
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := indicatorHeader.FindStringSubmatch(line); m != nil {
			flush()
			current = &IndicatorRecommendation{ID: atoi(m[1]), Name: cleanText(m[2])}
			continue
		}
		if m := numberedBold.FindStringSubmatch(line); m != nil && !attribute.MatchString(line) {
			flush()
			current = &IndicatorRecommendation{Name: cleanText(m[2])}
			if rest := strings.TrimSpace(m[3]); rest != "" {
				current.Definition = cleanText(rest)
			}
			continue
		}
		if current == nil {
			continue
		}

		if m := attribute.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(m[1])
			value := cleanText(m[2])
			inMethods = false
			switch {
			case key == "definition" || key == "description":
				current.Definition = value
			case key == "cost":
				current.Cost = firstWord(value)
			case key == "accuracy":
				current.Accuracy = firstWord(value)
			case strings.HasPrefix(key, "ease"):
				current.Ease = firstWord(value)
			case strings.HasPrefix(key, "method"):
				inMethods = true
				for _, name := range splitList(value) {
					current.Methods = append(current.Methods, parseMethod(name, len(current.Methods)+1))
				}
			}
			continue
		}

		if inMethods {
			if m := bullet.FindStringSubmatch(line); m != nil {
				current.Methods = append(current.Methods, parseMethod(m[1], len(current.Methods)+1))
			}
		}
	}
	flush()

	if out == nil {
		return []IndicatorRecommendation{}
	}
	assignIDs(out)
	return out
}

// assignIDs keeps the first use of each explicit ID and numbers the rest
// after the highest one seen.
func assignIDs(recs []IndicatorRecommendation) {
	maxID := 0
	for _, rec := range recs {
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	seen := make(map[int]bool, len(recs))
	for i := range recs {
		if recs[i].ID <= 0 || seen[recs[i].ID] {
			maxID++
			recs[i].ID = maxID
		}
		seen[recs[i].ID] = true
	}
}

func parseMethod(raw string, id int) Method {
	method := Method{ID: id}
	for _, pair := range ratingPair.FindAllStringSubmatch(raw, -1) {
		switch strings.ToLower(pair[1]) {
		case "cost":
			method.Cost = strings.ToLower(pair[2])
		case "accuracy":
			method.Accuracy = strings.ToLower(pair[2])
		case "ease":
			method.Ease = strings.ToLower(pair[2])
		}
	}
	method.Name = cleanText(parenthetical.ReplaceAllString(raw, ""))
	return method
}

// splitList splits on commas and semicolons outside parentheses.
func splitList(s string) []string {
	var (
		items []string
		depth int
		start int
	)
	emit := func(end int) {
		if part := strings.TrimSpace(s[start:end]); part != "" {
			items = append(items, part)
		}
	}
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',', ';':
			if depth == 0 {
				emit(i)
				start = i + 1
			}
		}
	}
	emit(len(s))
	return items
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*_`"))
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], ".,;*"))
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
