// File: pkg/matcher/compare.go
package matcher

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/PaesslerAG/jsonpath"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransform strips combining marks so accented and plain spellings
// compare equal after lowercasing.
var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// cleanFold lowercases and accent-folds a string for the fallback comparison.
func cleanFold(s string) string {
	folded, _, err := transform.String(foldTransform, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// lookup resolves a possibly-dotted field path against an event payload.
// Flat keys hit the map directly; dotted paths are translated to a JSONPath
// query so nested objects and array indices resolve too.
func lookup(props map[string]any, field string) (any, bool) {
	if v, ok := props[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(field, ".") {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		b.WriteString("." + seg)
	}
	v, err := jsonpath.Get(b.String(), any(props))
	if err != nil {
		return nil, false
	}
	return v, true
}

// presentAndNonEmpty is the dynamic-field rule: the value must exist and must
// not be nil or a blank string.
func presentAndNonEmpty(props map[string]any, field string) bool {
	v, ok := lookup(props, field)
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

// valuesEqual compares an expected reference value against a captured value.
// The second return reports that equality only held after case and accent
// folding, which validates but is surfaced as a warning.
func valuesEqual(expected, actual any) (equal, folded bool) {
	if reflect.DeepEqual(expected, actual) {
		return true, false
	}
	es, eok := expected.(string)
	as, aok := actual.(string)
	if !eok || !aok {
		// Numbers may arrive as different JSON widths from the two sources.
		// All other cross-type pairs are wrong-type violations.
		if isNumeric(expected) && isNumeric(actual) {
			return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual), false
		}
		return false, false
	}
	if strings.TrimSpace(es) == strings.TrimSpace(as) {
		return true, false
	}
	if cleanFold(strings.TrimSpace(es)) == cleanFold(strings.TrimSpace(as)) {
		return true, true
	}
	return false, false
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
