package consistency

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/traittech/assetcheck/internal/catalog"
)

const ReportSchemaV1 = "assetcheck.report.v1"

type RunStatus string

const (
	RunPass    RunStatus = "pass"
	RunFail    RunStatus = "fail"
	RunAborted RunStatus = "aborted"
)

type AssetStatus string

const (
	AssetOK      AssetStatus = "ok"
	AssetFailed  AssetStatus = "failed"
	AssetAborted AssetStatus = "aborted"
)

type Report struct {
	Schema       string          `json:"schema"`
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Backends     []string        `json:"backends"`
	Options      RunOptions      `json:"options"`
	Status       RunStatus       `json:"status"`
	Summary      Summary         `json:"summary"`
	LayoutIssues []catalog.Issue `json:"layout_issues,omitempty"`
	Assets       []AssetResult   `json:"assets"`
	Error        string          `json:"error,omitempty"`
}

type RunOptions struct {
	Workers          int  `json:"workers"`
	KeepGoing        bool `json:"keep_going"`
	StrictAttributes bool `json:"strict_attributes"`
}

type Summary struct {
	AssetsTotal   int `json:"assets_total"`
	AssetsOK      int `json:"assets_ok"`
	AssetsFailed  int `json:"assets_failed"`
	AssetsAborted int `json:"assets_aborted"`
	Discrepancies int `json:"discrepancies"`
	Structural    int `json:"structural"`
}

// AssetResult is the outcome for one metadata file. ID is its path relative
// to the catalog root.
type AssetResult struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	MetadataID string          `json:"metadata_id,omitempty"`
	Status     AssetStatus     `json:"status"`
	Traits     []string        `json:"traits,omitempty"`
	Backends   []BackendResult `json:"backends,omitempty"`
	// Failures not tied to a single backend: classification and drift.
	Failures []Failure `json:"failures,omitempty"`
}

type BackendResult struct {
	Backend  string    `json:"backend"`
	State    State     `json:"state"`
	Trail    []State   `json:"trail"`
	Failures []Failure `json:"failures,omitempty"`
}

// AllFailures lists asset-level failures followed by backend failures.
func (a AssetResult) AllFailures() []Failure {
	out := append([]Failure(nil), a.Failures...)
	for _, b := range a.Backends {
		out = append(out, b.Failures...)
	}
	return out
}

// Backend returns the result for one backend.
func (a AssetResult) Backend(name string) (BackendResult, bool) {
	for _, b := range a.Backends {
		if b.Backend == name {
			return b, true
		}
	}
	return BackendResult{}, false
}

// finalize sorts assets by id and derives the summary and run status.
func (r *Report) finalize(abort error) {
	sort.Slice(r.Assets, func(i, j int) bool { return r.Assets[i].ID < r.Assets[j].ID })

	s := Summary{AssetsTotal: len(r.Assets)}
	for _, a := range r.Assets {
		switch a.Status {
		case AssetOK:
			s.AssetsOK++
		case AssetFailed:
			s.AssetsFailed++
		default:
			s.AssetsAborted++
		}
		for _, f := range a.AllFailures() {
			if f.Reason.Structural() {
				s.Structural++
			} else {
				s.Discrepancies++
			}
		}
	}
	r.Summary = s

	switch {
	case abort != nil:
		r.Status = RunAborted
		r.Error = abort.Error()
	case s.AssetsFailed > 0:
		r.Status = RunFail
	default:
		r.Status = RunPass
	}
}

// Discrepancies flattens every failure with the asset it belongs to.
func (r *Report) Discrepancies() []Discrepancy {
	var out []Discrepancy
	for _, a := range r.Assets {
		for _, f := range a.Failures {
			out = append(out, Discrepancy{Asset: a.ID, Failure: f})
		}
		for _, b := range a.Backends {
			for _, f := range b.Failures {
				out = append(out, Discrepancy{Asset: a.ID, Backend: b.Backend, Failure: f})
			}
		}
	}
	return out
}

type Discrepancy struct {
	Asset   string
	Backend string
	Failure Failure
}

func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders a summary line, layout issues and one row per failure.
func WriteText(w io.Writer, r *Report) error {
	s := r.Summary
	if _, err := fmt.Fprintf(w, "run %s: %s (assets=%d ok=%d failed=%d aborted=%d discrepancies=%d structural=%d)\n",
		r.RunID, r.Status, s.AssetsTotal, s.AssetsOK, s.AssetsFailed, s.AssetsAborted, s.Discrepancies, s.Structural); err != nil {
		return err
	}
	if r.Error != "" {
		if _, err := fmt.Fprintf(w, "error: %s\n", r.Error); err != nil {
			return err
		}
	}
	for _, issue := range r.LayoutIssues {
		if _, err := fmt.Fprintf(w, "layout %s\n", issue); err != nil {
			return err
		}
	}

	rows := r.Discrepancies()
	if len(rows) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tBACKEND\tREASON\tTARGET\tDETAIL")
	for _, d := range rows {
		be := d.Backend
		if be == "" {
			be = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Asset, be, d.Failure.Reason, target(d.Failure), detail(d.Failure))
	}
	return tw.Flush()
}

func target(f Failure) string {
	switch {
	case f.URL != "":
		return f.URL
	case f.Path != "":
		return f.Path
	case f.Trait != "" && f.Field != "":
		return f.Trait + "." + f.Field
	case f.Trait != "":
		return f.Trait
	default:
		return "-"
	}
}

func detail(f Failure) string {
	switch f.Reason {
	case ReasonUnreachable:
		if f.Timeout {
			return "timeout"
		}
		if f.Status != 0 && (f.Status < 200 || f.Status > 299) {
			return fmt.Sprintf("status %d", f.Status)
		}
	case ReasonTypeMismatch:
		return fmt.Sprintf("want %s, got %s", f.Expected, f.Actual)
	case ReasonWrongTraitSet:
		return f.Message
	}
	return strings.ReplaceAll(f.Message, "\n", " ")
}
