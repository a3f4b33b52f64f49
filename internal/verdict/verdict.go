// Package verdict turns raw vision classifier output into a Verdict.
//
// The classifier is asked for JSON but its output format is not guaranteed,
// so every response is decoded into one of two shapes: Structured, when the
// text is a JSON object, or FreeText otherwise. Fields of the wrong type are
// treated as absent, and a missing or non-boolean "match" is false.
// Resolve is total over both shapes and never fails.
package verdict

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Verdict is the canonical result of one verification attempt.
// Confidence comes from an external service and is not clamped.
type Verdict struct {
	Match      bool     `json:"match"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Output is the decoded classifier response.
type Output interface {
	isOutput()
}

// Structured is a response that parsed as the requested JSON shape.
type Structured struct {
	Verdict Verdict
}

// FreeText is any response that did not.
type FreeText struct {
	Text string
}

func (Structured) isOutput() {}
func (FreeText) isOutput()   {}

var (
	matchKeywords = []string{"correspondência", "match", "mesma pessoa"}
	decimalRe     = regexp.MustCompile(`\d+\.\d+`)
	jsonKeyRe     = regexp.MustCompile(`"[^"\n]*"\s*:`)

	// A Portuguese keyword preceded by one of these within negationWindow
	// words does not count. "match" always counts.
	negations        = []string{"não", "nao", "sem", "nenhuma", "nenhum"}
	negatableKeyword = map[string]bool{"correspondência": true, "mesma pessoa": true}
)

const negationWindow = 3

// Decode classifies raw classifier text.
func Decode(raw string) Output {
	if v, ok := parseStructured(raw); ok {
		return Structured{Verdict: v}
	}
	return FreeText{Text: raw}
}

// Resolve produces a verdict from either output shape.
func Resolve(out Output) Verdict {
	switch o := out.(type) {
	case Structured:
		return o.Verdict
	case FreeText:
		return heuristic(o.Text)
	default:
		return Verdict{Confidence: float64Ptr(0)}
	}
}

// Interpret is Resolve(Decode(raw)).
func Interpret(raw string) Verdict {
	return Resolve(Decode(raw))
}

// Degraded reports whether out needed the keyword fallback.
func Degraded(out Output) bool {
	_, ok := out.(FreeText)
	return ok
}

func parseStructured(raw string) (Verdict, bool) {
	body := stripCodeFence(strings.TrimSpace(raw))
	if !strings.HasPrefix(body, "{") {
		return Verdict{}, false
	}

	// Only the first value counts; models sometimes append a note after it.
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return Verdict{}, false
	}

	var v Verdict
	if raw, ok := fields["match"]; ok {
		var match bool
		if json.Unmarshal(raw, &match) == nil {
			v.Match = match
		}
	}
	if raw, ok := fields["confidence"]; ok {
		var c float64
		if json.Unmarshal(raw, &c) == nil && !isNull(raw) {
			v.Confidence = &c
		}
	}
	if raw, ok := fields["reasons"]; ok && !isNull(raw) {
		var reasons []string
		if json.Unmarshal(raw, &reasons) == nil {
			if reasons == nil {
				reasons = []string{}
			}
			v.Reasons = reasons
		}
	}
	return v, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// stripCodeFence removes a surrounding ```json ... ``` block, which models
// often emit even when asked for bare JSON.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.Contains(inner[:nl], "{") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}

// heuristic scans free text for match keywords. JSON keys are removed first
// so a broken object like {"match": false ... never matches on its own key.
func heuristic(text string) Verdict {
	text = jsonKeyRe.ReplaceAllString(text, " ")
	lower := strings.ToLower(text)
	v := Verdict{Confidence: float64Ptr(0)}
	for _, kw := range matchKeywords {
		found := strings.Contains(lower, kw)
		if negatableKeyword[kw] {
			found = containsAffirmed(lower, kw)
		}
		if found {
			v.Match = true
			break
		}
	}
	if m := decimalRe.FindString(text); m != "" {
		if c, err := strconv.ParseFloat(m, 64); err == nil {
			v.Confidence = &c
		}
	}
	return v
}

func containsAffirmed(text, keyword string) bool {
	offset := 0
	for {
		idx := strings.Index(text[offset:], keyword)
		if idx < 0 {
			return false
		}
		start := offset + idx
		if !negated(text[:start]) {
			return true
		}
		offset = start + len(keyword)
	}
}

func negated(prefix string) bool {
	words := strings.FieldsFunc(prefix, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) > negationWindow {
		words = words[len(words)-negationWindow:]
	}
	for _, w := range words {
		for _, n := range negations {
			if w == n {
				return true
			}
		}
	}
	return false
}

func float64Ptr(f float64) *float64 {
	return &f
}
