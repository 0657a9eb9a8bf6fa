// Package render prints engine reports, status and history for the promalert CLI.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mr-karan/promalert/internal/alerts"
	"github.com/mr-karan/promalert/internal/cli/client"
	"github.com/mr-karan/promalert/pkg/models"
)

// Options configures the renderer
type Options struct {
	Format string // table, json
	Color  bool   // Enable colored output
	// Out defaults to os.Stdout.
	Out io.Writer
}

// Renderer renders API results
type Renderer struct {
	opts Options
	out  io.Writer
}

// New creates a new renderer
func New(opts Options) (*Renderer, error) {
	if opts.Format == "" {
		opts.Format = "table"
	}
	if opts.Format != "table" && opts.Format != "json" {
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json)", opts.Format)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Renderer{opts: opts, out: out}, nil
}

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Report renders the results of one evaluation pass.
func (r *Renderer) Report(report *alerts.Report) error {
	if r.opts.Format == "json" {
		return r.renderJSON(report)
	}

	if len(report.Results) == 0 {
		fmt.Fprintln(r.out, "No enabled rules.")
	} else {
		rows := make([][]string, len(report.Results))
		for i, res := range report.Results {
			value := ""
			if res.Value != nil {
				value = strconv.FormatFloat(*res.Value, 'f', -1, 64)
			}
			rows[i] = []string{
				strconv.FormatInt(int64(res.RuleID), 10),
				res.RuleName,
				r.styleOutcome(res.Outcome),
				string(res.State),
				string(res.Reason),
				value,
				formatValue(res.Error),
			}
		}
		r.renderTable([]string{"ID", "RULE", "OUTCOME", "STATE", "REASON", "VALUE", "ERROR"}, rows)
	}

	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf(
		"Pass %s: %d ok, %d notified, %d errored, %d conflicts in %s",
		report.ID, report.OK, report.Notified, report.Errored, report.Conflicts,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)))
	return nil
}

// EngineStatus renders the scheduler status.
func (r *Renderer) EngineStatus(st *client.EngineStatus) error {
	if r.opts.Format == "json" {
		return r.renderJSON(st)
	}

	running := "stopped"
	if st.Running {
		running = "running"
	}
	if r.opts.Color {
		if st.Running {
			running = infoStyle.Render(running)
		} else {
			running = warnStyle.Render(running)
		}
	}

	fmt.Fprintf(r.out, "Engine:    %s\n", running)
	fmt.Fprintf(r.out, "Interval:  %s\n", st.Interval)
	fmt.Fprintf(r.out, "Active:    %t\n", st.Active)
	fmt.Fprintf(r.out, "Next run:  %s\n", formatTime(st.NextRun))
	fmt.Fprintf(r.out, "Last run:  %s\n", formatTime(st.LastRun))
	if st.LastError != "" {
		fmt.Fprintf(r.out, "Last error: %s\n", r.style(errorStyle, st.LastError))
	}
	if st.LastReport != nil {
		fmt.Fprintf(r.out, "Last pass: %d ok, %d notified, %d errored, %d conflicts\n",
			st.LastReport.OK, st.LastReport.Notified, st.LastReport.Errored, st.LastReport.Conflicts)
	}
	return nil
}

// Rule renders a single rule after an override.
func (r *Renderer) Rule(rule *models.Rule) error {
	if r.opts.Format == "json" {
		return r.renderJSON(rule)
	}
	fmt.Fprintf(r.out, "%s %s is now %s (send count %d)\n",
		r.style(dimStyle, fmt.Sprintf("#%d", rule.ID)), rule.Name, rule.State, rule.SendCount)
	return nil
}

// History renders history entries newest first.
func (r *Renderer) History(entries []models.HistoryEntry) error {
	if r.opts.Format == "json" {
		return r.renderJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No history.")
		return nil
	}

	rows := make([][]string, len(entries))
	for i, h := range entries {
		notified := "no"
		if h.Notified {
			notified = "yes"
		}
		rows[i] = []string{
			strconv.FormatInt(int64(h.ID), 10),
			h.CreatedAt.Local().Format("01-02 15:04:05"),
			string(h.Status),
			h.Level,
			h.AlertValue,
			notified,
			formatValue(h.Message),
		}
	}
	r.renderTable([]string{"ID", "TIME", "STATUS", "LEVEL", "VALUE", "NOTIFIED", "MESSAGE"}, rows)
	return nil
}

func (r *Renderer) renderJSON(v any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (r *Renderer) renderTable(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...).
		Rows(rows...)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252"))
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})

	fmt.Fprintln(r.out, t.Render())
}

func (r *Renderer) styleOutcome(o alerts.Outcome) string {
	s := string(o)
	if !r.opts.Color {
		return s
	}
	switch o {
	case alerts.OutcomeError, alerts.OutcomeConflict:
		return errorStyle.Render(s)
	case alerts.OutcomeNotified, alerts.OutcomeAlerting:
		return warnStyle.Render(s)
	case alerts.OutcomeOK:
		return infoStyle.Render(s)
	default:
		return s
	}
}

func (r *Renderer) style(st lipgloss.Style, s string) string {
	if !r.opts.Color {
		return s
	}
	return st.Render(s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// formatValue truncates long cell text.
func formatValue(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > 80 {
		return string([]rune(s)[:77]) + "..."
	}
	return s
}
