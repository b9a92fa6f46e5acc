package extract

import "fmt"

// Tag identifies the supplier whose layout produced a record.
type Tag string

// Built-in supplier tags.
const (
	Fornecedor1 Tag = "fornecedor1"
	Fornecedor2 Tag = "fornecedor2"
	Fornecedor3 Tag = "fornecedor3"
	Fornecedor4 Tag = "fornecedor4"
)

// Record is one quotation line item. Records are only built from lines that
// passed every stage of an extractor; they are never mutated afterwards.
type Record struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	UnitValue   float64 `json:"unit_value"`
	Supplier    Tag     `json:"supplier_tag"`
}

// Reason classifies why a line was rejected.
type Reason string

const (
	ReasonNoAnchor       Reason = "no anchor"
	ReasonTooFewTokens   Reason = "too few tokens"
	ReasonNoCode         Reason = "no code"
	ReasonValueMissing   Reason = "value missing"
	ReasonMalformedValue Reason = "malformed value"
)

// Rejection is the non-fatal outcome of a line that could not be turned into
// a Record. It implements error so extractors can return it through the usual
// (value, error) pair; callers use errors.As to tell it apart.
type Rejection struct {
	Reason Reason `json:"reason"`
	Line   string `json:"line"`
	Detail string `json:"detail,omitempty"`
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("line rejected: %s (%s)", r.Reason, r.Detail)
	}
	return fmt.Sprintf("line rejected: %s", r.Reason)
}

func reject(line string, reason Reason, detail string) *Rejection {
	return &Rejection{Reason: reason, Line: line, Detail: detail}
}
