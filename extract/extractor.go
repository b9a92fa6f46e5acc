package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Extractor turns single lines of one supplier layout into Records.
// It holds no per-line state and is safe for concurrent use.
type Extractor struct {
	tag    Tag
	layout Layout

	isAnchor    func(string) bool
	locateCode  codeFunc
	selectValue valueFunc
}

// New compiles a Layout into an Extractor for the given supplier tag.
func New(tag Tag, layout Layout) (*Extractor, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: empty supplier tag", ErrInvalidLayout)
	}
	if layout.MinTokens < 0 {
		return nil, fmt.Errorf("%w: min_tokens %d", ErrInvalidLayout, layout.MinTokens)
	}
	isAnchor, err := anchorFunc(layout.Anchor)
	if err != nil {
		return nil, err
	}
	locate, err := compileCode(layout.Code)
	if err != nil {
		return nil, err
	}
	value, err := compileValue(layout.Value)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		tag:         tag,
		layout:      layout,
		isAnchor:    isAnchor,
		locateCode:  locate,
		selectValue: value,
	}, nil
}

// Tag returns the supplier tag stamped on every record.
func (e *Extractor) Tag() Tag { return e.tag }

// Layout returns the layout the extractor was compiled from.
func (e *Extractor) Layout() Layout { return e.layout }

// Extract parses one line. On failure the error is a *Rejection.
func (e *Extractor) Extract(line string) (Record, error) {
	tokens := strings.Fields(line)

	if !e.anyAnchor(tokens, 0) {
		return Record{}, reject(line, ReasonNoAnchor, string(e.layout.Anchor))
	}
	if len(tokens) < e.layout.MinTokens {
		return Record{}, reject(line, ReasonTooFewTokens,
			fmt.Sprintf("%d < %d", len(tokens), e.layout.MinTokens))
	}

	code, codeIdx, ok := e.locateCode(line, tokens)
	if !ok || code == "" {
		return Record{}, reject(line, ReasonNoCode, string(e.layout.Code.Kind))
	}

	anchorIdx := e.anchorAfter(tokens, codeIdx)
	if anchorIdx < 0 {
		return Record{}, reject(line, ReasonNoAnchor, "no anchor after code "+code)
	}

	between := tokens[codeIdx+1 : anchorIdx]
	if e.layout.MergeLetters {
		between = MergeSingleLetters(between)
	}

	tok, detail := e.selectValue(tokens, anchorIdx)
	if tok == "" {
		return Record{}, reject(line, ReasonValueMissing, detail)
	}
	value, err := ParseMoney(tok)
	if err != nil {
		return Record{}, reject(line, ReasonMalformedValue, err.Error())
	}

	return Record{
		Code:        code,
		Description: strings.Join(between, " "),
		UnitValue:   value,
		Supplier:    e.tag,
	}, nil
}

func (e *Extractor) anyAnchor(tokens []string, from int) bool {
	return e.anchorAfter(tokens, from-1) >= 0
}

// anchorAfter returns the index of the first anchor token after pos, or -1.
func (e *Extractor) anchorAfter(tokens []string, pos int) int {
	for i := pos + 1; i < len(tokens); i++ {
		if e.isAnchor(tokens[i]) {
			return i
		}
	}
	return -1
}

// MergeSingleLetters concatenates runs of consecutive one-character tokens
// into one word ("P A R A F U S O" -> "PARAFUSO"). Longer tokens are kept.
func MergeSingleLetters(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) == 1 {
			run.WriteString(tok)
			continue
		}
		flush()
		out = append(out, tok)
	}
	flush()
	return out
}
