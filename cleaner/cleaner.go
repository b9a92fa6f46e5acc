// Package cleaner rebuilds the raw text of scanned supplier quotes into lines
// the field extractors can parse: letter-spaced words are collapsed, known
// spelling breaks are repaired, boilerplate is dropped and only probable item
// lines survive, together with one header line for context.
package cleaner

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/brunobiangulo/goquote/extract"
)

// RepairRule rewrites every match of Pattern with Replace (regexp syntax,
// $1-style group references allowed).
type RepairRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Replace string `json:"replace" yaml:"replace"`
}

// Config holds the marker lists and repair rules for one document format.
type Config struct {
	HeaderMarkers []string     `json:"header_markers" yaml:"header_markers"`
	Blocklist     []string     `json:"blocklist" yaml:"blocklist"`
	Repairs       []RepairRule `json:"repairs" yaml:"repairs"`
}

// DefaultConfig returns the rules for the scanned quote format.
func DefaultConfig() Config {
	return Config{
		HeaderMarkers: []string{"DESCRIÇÃO", "CÓDIGO", "CODIGO"},
		Blocklist: []string{
			"CNPJ", "INSCRIÇÃO ESTADUAL", "INSC. EST",
			"PÁGINA", "PAGINA", "SUBTOTAL", "TOTAL",
			"ENDEREÇO", "TELEFONE", "FONE:", "E-MAIL", "CEP:",
		},
		Repairs: []RepairRule{
			// the brand name is printed glued to the product name
			{Pattern: `\b(TRAMONTINA)([A-Z0-9])`, Replace: "$1 $2"},
			{Pattern: `\bDESCRI[CÇ][AÃÂ]O\b`, Replace: "DESCRIÇÃO"},
		},
	}
}

type repair struct {
	re      *regexp.Regexp
	replace string
}

// Cleaner applies a Config. It keeps no state between Clean calls.
type Cleaner struct {
	headers   []string
	blocklist []string
	repairs   []repair
}

// New compiles cfg.
func New(cfg Config) (*Cleaner, error) {
	c := &Cleaner{}
	for _, m := range cfg.HeaderMarkers {
		if m = strings.TrimSpace(m); m != "" {
			c.headers = append(c.headers, strings.ToUpper(norm.NFC.String(m)))
		}
	}
	for _, b := range cfg.Blocklist {
		if b = strings.TrimSpace(b); b != "" {
			c.blocklist = append(c.blocklist, strings.ToUpper(norm.NFC.String(b)))
		}
	}
	for _, r := range cfg.Repairs {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling repair %q: %w", r.Pattern, err)
		}
		c.repairs = append(c.repairs, repair{re: re, replace: r.Replace})
	}
	return c, nil
}

// Clean turns the page texts of one document into the ordered item lines,
// preceded by the header line (and the line printed just above it).
// It never fails: lines that break a rule are dropped.
func (c *Cleaner) Clean(pages []string) []string {
	var raw []string
	for _, p := range pages {
		raw = append(raw, strings.Split(p, "\n")...)
	}
	prepared := make([]string, len(raw))
	for i, line := range raw {
		prepared[i] = c.prepare(line)
	}

	var (
		out         []string
		emitted     = make(map[int]bool)
		headerFound bool
		prev        = -1
	)
	for i, line := range prepared {
		if line == "" {
			continue
		}
		above := prev
		prev = i
		if len(strings.Fields(line)) < 2 {
			continue
		}

		if c.isHeader(line) {
			if headerFound {
				continue
			}
			headerFound = true
			if above >= 0 && !emitted[above] && !c.blocked(prepared[above]) {
				out = append(out, prepared[above])
				emitted[above] = true
			}
			out = append(out, line)
			emitted[i] = true
			continue
		}

		if c.blocked(line) || !IsItemLine(line) {
			continue
		}
		out = append(out, line)
		emitted[i] = true
	}

	if !headerFound {
		out = append(c.findHeader(prepared, emitted), out...)
	}
	return DropGarbledTail(out)
}

// prepare normalises one physical line and applies the letter-spacing and
// spelling repairs. Blank input yields "".
func (c *Cleaner) prepare(line string) string {
	line = strings.Join(strings.Fields(norm.NFC.String(line)), " ")
	if line == "" {
		return ""
	}
	line = CollapseLetterSpacing(line)
	for _, r := range c.repairs {
		line = r.re.ReplaceAllString(line, r.replace)
	}
	return line
}

// findHeader scans every line, including the single-token ones the main pass
// skips, for a header marker. It returns the header and the non-blank line
// above it (unless blocklisted), or nil.
func (c *Cleaner) findHeader(prepared []string, emitted map[int]bool) []string {
	prev := -1
	for i, line := range prepared {
		if line == "" {
			continue
		}
		if c.isHeader(line) {
			if prev >= 0 && !emitted[prev] && !c.blocked(prepared[prev]) {
				return []string{prepared[prev], line}
			}
			return []string{line}
		}
		prev = i
	}
	return nil
}

func (c *Cleaner) isHeader(line string) bool {
	return containsAny(strings.ToUpper(line), c.headers)
}

func (c *Cleaner) blocked(line string) bool {
	return containsAny(strings.ToUpper(line), c.blocklist)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CollapseLetterSpacing joins runs of three or more single uppercase letters
// ("P A R A F U S O") into one word. Shorter runs are left alone.
func CollapseLetterSpacing(line string) string {
	tokens := strings.Fields(line)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		j := i
		for j < len(tokens) && isSingleUpper(tokens[j]) {
			j++
		}
		if j-i >= 3 {
			out = append(out, strings.Join(tokens[i:j], ""))
			i = j
			continue
		}
		if j == i {
			j++
		}
		out = append(out, tokens[i:j]...)
		i = j
	}
	return strings.Join(out, " ")
}

func isSingleUpper(tok string) bool {
	r, size := utf8.DecodeRuneInString(tok)
	return size == len(tok) && unicode.IsUpper(r)
}

var (
	shortNumberPattern = regexp.MustCompile(`^\d{1,4}$`)
	alnumRunPattern    = regexp.MustCompile(`[\p{L}\p{N}]{3,}`)
)

// IsItemLine reports whether a line looks like a quotation item: a short
// number, a word of three or more characters and a monetary value, or at
// least eight tokens with a digit somewhere.
func IsItemLine(line string) bool {
	tokens := strings.Fields(line)
	var number, word, money bool
	for _, tok := range tokens {
		if shortNumberPattern.MatchString(tok) {
			number = true
		}
		if alnumRunPattern.MatchString(tok) {
			word = true
		}
		if extract.IsMoney(tok) {
			money = true
		}
	}
	if number && word && money {
		return true
	}
	return len(tokens) >= 8 && strings.ContainsAny(line, "0123456789")
}

// DropGarbledTail drops the last line when its token count is below half of
// the smaller, or above double the larger, of the two lines before it.
func DropGarbledTail(lines []string) []string {
	n := len(lines)
	if n < 3 {
		return lines
	}
	last := len(strings.Fields(lines[n-1]))
	a := len(strings.Fields(lines[n-2]))
	b := len(strings.Fields(lines[n-3]))
	if 2*last < min(a, b) || last > 2*max(a, b) {
		return lines[:n-1]
	}
	return lines
}
