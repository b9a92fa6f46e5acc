package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/goquote"
	"github.com/brunobiangulo/goquote/dispatch"
	"github.com/brunobiangulo/goquote/extract"
)

// DefaultThreshold is the F1 a case needs to pass.
const DefaultThreshold = 0.95

// Evaluator runs datasets through a goquote engine and scores the records
// it extracts.
type Evaluator struct {
	engine    goquote.Engine
	threshold float64
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(engine goquote.Engine) *Evaluator {
	return &Evaluator{engine: engine, threshold: DefaultThreshold}
}

// SetThreshold sets the minimum F1 for a passing case. Values outside
// (0, 1] are ignored.
func (e *Evaluator) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		e.threshold = t
	}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalCases      int                         `json:"total_cases"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Threshold       float64                     `json:"threshold"`
	Metrics         AggregateMetrics            `json:"metrics"`
	SupplierMetrics map[string]AggregateMetrics `json:"supplier_metrics,omitempty"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []CaseResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics holds averaged metrics across cases. Cases that errored
// are left out of the averages.
type AggregateMetrics struct {
	Cases                  int     `json:"cases"`
	AvgPrecision           float64 `json:"avg_precision"`
	AvgRecall              float64 `json:"avg_recall"`
	AvgF1                  float64 `json:"avg_f1"`
	AvgValueAccuracy       float64 `json:"avg_value_accuracy"`
	AvgDescriptionAccuracy float64 `json:"avg_description_accuracy"`
	Rejections             int     `json:"rejections"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Name       string                   `json:"name"`
	Supplier   string                   `json:"supplier"`
	Category   string                   `json:"category,omitempty"`
	Passed     bool                     `json:"passed"`
	Metrics    CaseMetrics              `json:"metrics"`
	Missing    []extract.Record         `json:"missing,omitempty"`
	Unexpected []extract.Record         `json:"unexpected,omitempty"`
	Rejections []dispatch.LineRejection `json:"rejections,omitempty"`
	Error      string                   `json:"error,omitempty"`
	ElapsedMs  int64                    `json:"elapsed_ms"`
}

// Run processes every case with WithForce so stored results from earlier
// runs never stand in for a fresh extraction.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         ds.Name,
		TotalCases:      len(ds.Cases),
		Threshold:       e.threshold,
		SupplierMetrics: make(map[string]AggregateMetrics),
		CategoryMetrics: make(map[string]AggregateMetrics),
	}

	var overall accumulator
	bySupplier := make(map[string]*accumulator)
	byCategory := make(map[string]*accumulator)

	for i, c := range ds.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := e.runCase(ctx, c)
		report.Results = append(report.Results, result)

		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		if result.Error != "" {
			status = "ERROR"
		}
		slog.Info("eval: case complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(ds.Cases)),
			"status", status,
			"f1", fmt.Sprintf("%.2f", result.Metrics.F1),
			"matched", result.Metrics.Matched,
			"expected", result.Metrics.Expected,
			"elapsed_ms", result.ElapsedMs,
			"case", truncate(c.Name, 80))

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		if result.Error != "" {
			continue
		}

		overall.add(result)
		accumulatorFor(bySupplier, c.Supplier).add(result)
		if c.Category != "" {
			accumulatorFor(byCategory, c.Category).add(result)
		}
	}

	report.Metrics = overall.average()
	for k, a := range bySupplier {
		report.SupplierMetrics[k] = a.average()
	}
	for k, a := range byCategory {
		report.CategoryMetrics[k] = a.average()
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	start := time.Now()
	result := CaseResult{Name: c.Name, Supplier: c.Supplier, Category: c.Category}

	res, err := e.engine.Process(ctx, goquote.BatchEntry{
		Path:     c.Path,
		Supplier: c.Supplier,
		Revision: c.Revision,
	}, goquote.WithForce())
	result.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Metrics, result.Missing, result.Unexpected = Score(c.Expected, res.Records)
	result.Rejections = res.Rejections
	result.Passed = result.Metrics.F1 >= e.threshold
	return result
}

type accumulator struct {
	n                     int
	precision, recall, f1 float64
	valueAcc, descAcc     float64
	rejections            int
}

func (a *accumulator) add(r CaseResult) {
	a.n++
	a.precision += r.Metrics.Precision
	a.recall += r.Metrics.Recall
	a.f1 += r.Metrics.F1
	a.valueAcc += r.Metrics.ValueAccuracy
	a.descAcc += r.Metrics.DescriptionAccuracy
	a.rejections += len(r.Rejections)
}

func (a *accumulator) average() AggregateMetrics {
	m := AggregateMetrics{Cases: a.n, Rejections: a.rejections}
	if a.n == 0 {
		return m
	}
	n := float64(a.n)
	m.AvgPrecision = clamp(a.precision / n)
	m.AvgRecall = clamp(a.recall / n)
	m.AvgF1 = clamp(a.f1 / n)
	m.AvgValueAccuracy = clamp(a.valueAcc / n)
	m.AvgDescriptionAccuracy = clamp(a.descAcc / n)
	return m
}

func accumulatorFor(m map[string]*accumulator, key string) *accumulator {
	a, ok := m[key]
	if !ok {
		a = &accumulator{}
		m[key] = a
	}
	return a
}

// FormatReport returns a human-readable summary of the report.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d | Threshold: F1 >= %.2f\n",
		r.TotalCases, r.Passed, passRate(r.Passed, r.TotalCases), r.Failed, r.Threshold)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Precision:            %.2f\n", r.Metrics.AvgPrecision)
	fmt.Fprintf(&b, "  Recall:               %.2f\n", r.Metrics.AvgRecall)
	fmt.Fprintf(&b, "  F1:                   %.2f\n", r.Metrics.AvgF1)
	fmt.Fprintf(&b, "  Value Accuracy:       %.2f\n", r.Metrics.AvgValueAccuracy)
	fmt.Fprintf(&b, "  Description Accuracy: %.2f\n", r.Metrics.AvgDescriptionAccuracy)
	fmt.Fprintf(&b, "  Rejected Lines:       %d\n\n", r.Metrics.Rejections)

	writeBreakdown(&b, "Per-Supplier Metrics", r.SupplierMetrics)
	writeBreakdown(&b, "Per-Category Metrics", r.CategoryMetrics)

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s (%s)\n", status, i+1, res.Name, res.Supplier)
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  P=%.2f R=%.2f F1=%.2f Val=%.2f Desc=%.2f  matched %d/%d, extracted %d  (%dms)\n",
			res.Metrics.Precision, res.Metrics.Recall, res.Metrics.F1,
			res.Metrics.ValueAccuracy, res.Metrics.DescriptionAccuracy,
			res.Metrics.Matched, res.Metrics.Expected, res.Metrics.Extracted, res.ElapsedMs)
		for _, rec := range res.Missing {
			fmt.Fprintf(&b, "  missing:    %s  %s\n", rec.Code, truncate(rec.Description, 60))
		}
		for _, rec := range res.Unexpected {
			fmt.Fprintf(&b, "  unexpected: %s  %s\n", rec.Code, truncate(rec.Description, 60))
		}
	}

	return b.String()
}

func writeBreakdown(b *strings.Builder, title string, metrics map[string]AggregateMetrics) {
	if len(metrics) == 0 {
		return
	}
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "%s:\n", title)
	for _, k := range keys {
		m := metrics[k]
		fmt.Fprintf(b, "  [%s] cases=%d\n", k, m.Cases)
		fmt.Fprintf(b, "    P=%.2f R=%.2f F1=%.2f Val=%.2f Desc=%.2f Rej=%d\n",
			m.AvgPrecision, m.AvgRecall, m.AvgF1, m.AvgValueAccuracy, m.AvgDescriptionAccuracy, m.Rejections)
	}
	fmt.Fprintln(b)
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
