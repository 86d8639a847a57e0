// Package report renders the outcome of an apply run for humans.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/schaermu/patchsync/internal/reconcile"
)

const unknown = "unknown"

type styles struct {
	title   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("42")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		warning: r.NewStyle().Foreground(lipgloss.Color("214")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// Print writes a summary of results to w, successful changes first. Colors
// are only emitted when w is a terminal.
func Print(w io.Writer, results []reconcile.FileChangeResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "There are no updates to apply.")
		return err
	}

	var ok, failed []reconcile.FileChangeResult
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r)
		} else {
			ok = append(ok, r)
		}
	}

	s := newStyles(w)
	p := &printer{w: w}
	p.line(s.title.Render(fmt.Sprintf("There were %d updates to apply.", len(results))))

	if len(ok) > 0 {
		p.line(s.success.Render(fmt.Sprintf("%d successful:", len(ok))))
		for _, r := range ok {
			p.entry(s, r)
		}
	}
	if len(failed) > 0 {
		p.line(s.failure.Render(fmt.Sprintf("%d failed:", len(failed))))
		for _, r := range failed {
			p.entry(s, r)
		}
	}
	return p.err
}

// HasFailures reports whether any result carries an error.
func HasFailures(results []reconcile.FileChangeResult) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// printer remembers the first write error so callers check it once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(text string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, text)
}

func (p *printer) entry(s styles, r reconcile.FileChangeResult) {
	p.line("  - file:    " + orUnknown(r.FilePath))
	p.line("    patch:   " + s.muted.Render(orUnknown(r.ArtifactPath)))
	p.line("    reason:  " + r.Reason.String())
	if r.Err != nil {
		p.line("    error:   " + s.failure.Render(r.Err.Error()))
	}
	if r.Warning != "" {
		p.line("    warning: " + s.warning.Render(r.Warning))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
