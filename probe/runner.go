package probe

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

type Result struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Verdict     Verdict       `json:"verdict"`
	Note        string        `json:"note,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

type Report struct {
	Target  string   `json:"target"`
	Results []Result `json:"results"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
}

// OK reports whether every case passed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

type Runner struct {
	client *Client
	log    *zap.Logger
}

func NewRunner(client *Client, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{client: client, log: log}
}

// Run executes cases one after another, each on its own connection.
func (r *Runner) Run(ctx context.Context, cases []Case) *Report {
	report := &Report{Target: r.client.Addr}

	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		res := r.runCase(ctx, c)
		if res.Verdict == Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (r *Runner) runCase(ctx context.Context, c Case) Result {
	start := time.Now()
	res := Result{ID: c.ID, Description: c.Description}

	reply, err := r.client.Do(ctx, []byte(c.Request(r.client.Host())))
	res.Duration = time.Since(start)
	if err != nil {
		res.Verdict = Fail
		res.Note = err.Error()
		r.log.Warn("case failed", zap.String("id", c.ID), zap.Error(err))
		return res
	}

	res.Verdict, res.Note = c.Check(reply)
	r.log.Debug("case done",
		zap.String("id", c.ID),
		zap.String("verdict", string(res.Verdict)),
		zap.Duration("duration", res.Duration))
	return res
}

// WriteTable renders the report as a text table.
func (r *Report) WriteTable(w io.Writer) {
	tbl := table.NewWriter()
	tbl.SetStyle(table.Style{
		Box: table.BoxStyle{
			PaddingRight: "   ",
		},
	})
	tbl.SetOutputMirror(w)
	tbl.AppendHeader(table.Row{"ID", "Verdict", "Note", "Description"})
	for _, res := range r.Results {
		tbl.AppendRow(table.Row{res.ID, res.Verdict, res.Note, res.Description})
	}
	tbl.SetCaption("%s: %d passed, %d failed", r.Target, r.Passed, r.Failed)
	tbl.Render()
}

func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
