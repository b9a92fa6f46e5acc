package extract

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidLayout is returned when a Layout names an unknown rule kind or
// carries out-of-range parameters.
var ErrInvalidLayout = errors.New("invalid layout")

// AnchorKind selects the token family that bounds the description span.
type AnchorKind string

const (
	AnchorNCM   AnchorKind = "ncm"   // 8-digit tariff classification
	AnchorMoney AnchorKind = "money" // locale monetary value
)

// CodeKind selects how the product code is located in a line.
type CodeKind string

const (
	CodeIndex  CodeKind = "index"  // token at position N
	CodePrefix CodeKind = "prefix" // token N of the prefix before the first monetary token
	CodeDigits CodeKind = "digits" // first run of at least N digits
	CodeScan   CodeKind = "scan"   // first token at or after From with a letter and MinLen characters
)

// ValueKind selects which token carries the unit value.
type ValueKind string

const (
	ValueOffset      ValueKind = "offset"       // anchor position + N
	ValueNextMoney   ValueKind = "next_money"   // first monetary token after the anchor
	ValueFromEnd     ValueKind = "from_end"     // N-th monetary token counting from the end of the line
	ValueAfterAnchor ValueKind = "after_anchor" // N-th monetary token after the anchor, else the first
)

// CodeRule parametrises code location.
type CodeRule struct {
	Kind   CodeKind `json:"kind" yaml:"kind"`
	N      int      `json:"n,omitempty" yaml:"n,omitempty"`
	From   int      `json:"from,omitempty" yaml:"from,omitempty"`
	MinLen int      `json:"min_len,omitempty" yaml:"min_len,omitempty"`

	// ItemNumber requires the line to open with an item number such as
	// "12" or "3A" before the code is accepted.
	ItemNumber bool `json:"item_number,omitempty" yaml:"item_number,omitempty"`
}

// ValueRule parametrises unit value selection.
type ValueRule struct {
	Kind ValueKind `json:"kind" yaml:"kind"`
	N    int       `json:"n,omitempty" yaml:"n,omitempty"`
}

// Layout describes one supplier document layout (one format revision).
type Layout struct {
	Anchor       AnchorKind `json:"anchor" yaml:"anchor"`
	Code         CodeRule   `json:"code" yaml:"code"`
	Value        ValueRule  `json:"value" yaml:"value"`
	MergeLetters bool       `json:"merge_letters,omitempty" yaml:"merge_letters,omitempty"`
	MinTokens    int        `json:"min_tokens,omitempty" yaml:"min_tokens,omitempty"`

	// Clean routes the document through the line cleaner before extraction.
	Clean bool `json:"clean,omitempty" yaml:"clean,omitempty"`
}

var itemNumberPattern = regexp.MustCompile(`^\d{1,3}[A-Za-z]*$`)

// codeFunc returns the code and the index of the token it was found in.
type codeFunc func(line string, tokens []string) (code string, idx int, ok bool)

// valueFunc returns the token holding the unit value, or a detail message.
type valueFunc func(tokens []string, anchor int) (tok string, detail string)

func anchorFunc(kind AnchorKind) (func(string) bool, error) {
	switch kind {
	case AnchorNCM:
		return IsNCM, nil
	case AnchorMoney:
		return IsMoney, nil
	default:
		return nil, fmt.Errorf("%w: unknown anchor kind %q", ErrInvalidLayout, kind)
	}
}

func compileCode(rule CodeRule) (codeFunc, error) {
	var locate codeFunc
	switch rule.Kind {
	case CodeIndex:
		if rule.N < 0 {
			return nil, fmt.Errorf("%w: index code position %d", ErrInvalidLayout, rule.N)
		}
		n := rule.N
		locate = func(_ string, tokens []string) (string, int, bool) {
			if n >= len(tokens) {
				return "", 0, false
			}
			return tokens[n], n, true
		}

	case CodePrefix:
		if rule.N < 0 {
			return nil, fmt.Errorf("%w: prefix code position %d", ErrInvalidLayout, rule.N)
		}
		n := rule.N
		locate = func(_ string, tokens []string) (string, int, bool) {
			money := moneyIndexes(tokens, 0)
			if len(money) == 0 || money[0] <= n {
				return "", 0, false
			}
			return tokens[n], n, true
		}

	case CodeDigits:
		n := rule.N
		if n == 0 {
			n = 5
		}
		if n < 1 {
			return nil, fmt.Errorf("%w: digit run length %d", ErrInvalidLayout, rule.N)
		}
		re := regexp.MustCompile(fmt.Sprintf(`\d{%d,}`, n))
		locate = func(_ string, tokens []string) (string, int, bool) {
			for i, tok := range tokens {
				if m := re.FindString(tok); m != "" {
					return m, i, true
				}
			}
			return "", 0, false
		}

	case CodeScan:
		minLen := rule.MinLen
		if minLen == 0 {
			minLen = 5
		}
		if rule.From < 0 || minLen < 1 {
			return nil, fmt.Errorf("%w: scan from %d min_len %d", ErrInvalidLayout, rule.From, rule.MinLen)
		}
		from := rule.From
		locate = func(_ string, tokens []string) (string, int, bool) {
			for i := from; i < len(tokens); i++ {
				if utf8.RuneCountInString(tokens[i]) >= minLen && hasLetter(tokens[i]) {
					return tokens[i], i, true
				}
			}
			return "", 0, false
		}

	default:
		return nil, fmt.Errorf("%w: unknown code kind %q", ErrInvalidLayout, rule.Kind)
	}

	if !rule.ItemNumber {
		return locate, nil
	}
	return func(line string, tokens []string) (string, int, bool) {
		if len(tokens) == 0 || !itemNumberPattern.MatchString(tokens[0]) {
			return "", 0, false
		}
		return locate(line, tokens)
	}, nil
}

func compileValue(rule ValueRule) (valueFunc, error) {
	switch rule.Kind {
	case ValueOffset:
		if rule.N < 1 {
			return nil, fmt.Errorf("%w: value offset %d", ErrInvalidLayout, rule.N)
		}
		n := rule.N
		return func(tokens []string, anchor int) (string, string) {
			if anchor+n >= len(tokens) {
				return "", fmt.Sprintf("no token at anchor+%d", n)
			}
			return tokens[anchor+n], ""
		}, nil

	case ValueNextMoney:
		return func(tokens []string, anchor int) (string, string) {
			after := moneyIndexes(tokens, anchor+1)
			if len(after) == 0 {
				return "", "no monetary token after anchor"
			}
			return tokens[after[0]], ""
		}, nil

	case ValueFromEnd:
		if rule.N < 1 {
			return nil, fmt.Errorf("%w: value from_end %d", ErrInvalidLayout, rule.N)
		}
		n := rule.N
		return func(tokens []string, _ int) (string, string) {
			all := moneyIndexes(tokens, 0)
			if len(all) < n {
				return "", fmt.Sprintf("need %d monetary tokens, found %d", n, len(all))
			}
			return tokens[all[len(all)-n]], ""
		}, nil

	case ValueAfterAnchor:
		n := rule.N
		if n == 0 {
			n = 2
		}
		if n < 1 {
			return nil, fmt.Errorf("%w: value after_anchor %d", ErrInvalidLayout, rule.N)
		}
		return func(tokens []string, anchor int) (string, string) {
			after := moneyIndexes(tokens, anchor+1)
			switch {
			case len(after) >= n:
				return tokens[after[n-1]], ""
			case len(after) > 0:
				return tokens[after[0]], ""
			default:
				return "", "no monetary token after anchor"
			}
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown value kind %q", ErrInvalidLayout, rule.Kind)
	}
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
