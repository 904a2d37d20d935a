package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/copyleftdev/SAMO/internal/optimizer"
)

// RunReport appends a human-readable record of each optimization cycle
// to a per-run text file next to the result database.
type RunReport struct {
	path string
}

// NewRunReport creates the report writer for one run. The file is
// created lazily on the first append.
func NewRunReport(dataDir, run string) *RunReport {
	return &RunReport{path: filepath.Join(dataDir, run+".report")}
}

// Path returns the report file location.
func (r *RunReport) Path() string { return r.path }

// AppendCycle records the candidate set of one cycle and, when a
// verification pass ran, its outcome.
func (r *RunReport) AppendCycle(cycle int, res *optimizer.Result, rep *VerificationReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "=== cycle %d (%s) ===\n", cycle, time.Now().UTC().Format(time.RFC3339))

	if res == nil {
		b.WriteString("no feasible candidates\n\n")
		return r.append(b.String())
	}

	fmt.Fprintf(&b, "candidates: %d\n", len(res.X))
	for i := range res.X {
		fmt.Fprintf(&b, "  x=%s  f=%s\n", formatVector(res.X[i]), formatVector(res.F[i]))
	}

	if rep != nil {
		fmt.Fprintf(&b, "verification (%d points):\n", len(rep.Indices))
		for i := range rep.Inputs {
			fmt.Fprintf(&b, "  x=%s  true=%s  predicted=%s\n",
				formatVector(rep.Inputs[i]), formatVector(rep.TrueOutputs[i]), formatVector(rep.Predicted[i]))
		}
		verdict := "rejected"
		if rep.Accepted {
			verdict = "accepted"
		}
		fmt.Fprintf(&b, "error=%.4f%% -> %s\n", rep.ErrorMeasure, verdict)
	}
	b.WriteString("\n")

	return r.append(b.String())
}

func (r *RunReport) append(text string) error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("loop: open run report: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("loop: write run report: %w", err)
	}
	return nil
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.6g", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
