package eval

import (
	"math"
	"strings"
	"unicode"

	"github.com/brunobiangulo/goquote/extract"
)

// valueTolerance is the largest unit value difference still counted as equal.
const valueTolerance = 0.005

// CaseMetrics compares the records extracted from one document with the
// expected ones.
type CaseMetrics struct {
	Expected  int     `json:"expected"`
	Extracted int     `json:"extracted"`
	Matched   int     `json:"matched"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`

	// Among matched records, the share whose unit value / description agree.
	ValueAccuracy       float64 `json:"value_accuracy"`
	DescriptionAccuracy float64 `json:"description_accuracy"`
}

// Score matches extracted records to expected ones by product code, in
// order, each record used at most once. Duplicated codes are matched
// pairwise.
func Score(expected, extracted []extract.Record) (CaseMetrics, []extract.Record, []extract.Record) {
	m := CaseMetrics{Expected: len(expected), Extracted: len(extracted)}

	used := make([]bool, len(extracted))
	var missing []extract.Record
	var valueHits, descHits int

	for _, want := range expected {
		code := normalizeText(want.Code)
		found := -1
		for i, got := range extracted {
			if !used[i] && normalizeText(got.Code) == code {
				found = i
				break
			}
		}
		if found < 0 {
			missing = append(missing, want)
			continue
		}
		used[found] = true
		m.Matched++

		got := extracted[found]
		if math.Abs(got.UnitValue-want.UnitValue) <= valueTolerance {
			valueHits++
		}
		if normalizeText(got.Description) == normalizeText(want.Description) {
			descHits++
		}
	}

	var unexpected []extract.Record
	for i, got := range extracted {
		if !used[i] {
			unexpected = append(unexpected, got)
		}
	}

	m.Precision = ratio(m.Matched, m.Extracted)
	m.Recall = ratio(m.Matched, m.Expected)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.ValueAccuracy = ratio(valueHits, m.Matched)
	m.DescriptionAccuracy = ratio(descHits, m.Matched)
	return m, missing, unexpected
}

// ratio returns n/d, and 1 for an empty denominator: nothing to find or
// nothing extracted is not an error.
func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}

// normalizeText folds the characters PDF text extraction tends to vary on
// so comparisons are not thrown off by them:
//   - Unicode whitespace → single ASCII space (U+00A0, U+202F, runs)
//   - Unicode hyphens → ASCII hyphen (U+2010 to U+2014)
//   - zero-width characters removed (U+200B, U+200C, U+200D, U+FEFF)
//
// The result is upper-cased and trimmed.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r >= '\u2010' && r <= '\u2014':
			r = '-'
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
