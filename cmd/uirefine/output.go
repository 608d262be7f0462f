package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hazyhaar/uirefine/engine"
	"github.com/hazyhaar/uirefine/evaluate"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(22)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB300"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func scoreStyle(v float64) lipgloss.Style {
	switch {
	case v >= 0.8:
		return goodStyle
	case v >= 0.6:
		return warnStyle
	default:
		return badStyle
	}
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func scoreRow(label string, v float64) string {
	return row(label, scoreStyle(v).Render(fmt.Sprintf("%.3f", v)))
}

func bullets(title string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	lines := []string{titleStyle.Render(title)}
	for _, it := range items {
		lines = append(lines, "  • "+it)
	}
	return strings.Join(lines, "\n")
}

func renderReport(rep *evaluate.Report) string {
	lines := []string{
		titleStyle.Render("Quality report"),
		scoreRow("quality", rep.QualityScore),
		row("elements", fmt.Sprint(len(rep.Elements))),
	}
	if l := rep.Layout; l != nil {
		lines = append(lines,
			scoreRow("spacing", l.SpacingConsistency),
			scoreRow("alignment", l.AlignmentScore),
			scoreRow("hierarchy", l.VisualHierarchy),
			scoreRow("whitespace", l.WhitespaceBalance),
			scoreRow("grid", l.GridConsistency),
		)
	}
	if a := rep.Accessibility; a != nil {
		lines = append(lines,
			scoreRow("contrast", a.ColorContrastScore),
			row("keyboard navigable", yesNo(a.KeyboardNavigable)),
			row("aria labels", yesNo(a.AriaLabelsPresent)),
			row("focus indicators", yesNo(a.FocusIndicatorsPresent)),
		)
	}
	out := []string{boxStyle.Render(strings.Join(lines, "\n"))}
	for _, b := range []string{bullets("Issues", rep.Issues), bullets("Suggestions", rep.Suggestions)} {
		if b != "" {
			out = append(out, b)
		}
	}
	return strings.Join(out, "\n")
}

func renderRun(resp *engine.RefineResponse) string {
	s := resp.Summary
	delta := fmt.Sprintf("%+.3f", s.QualityImprovement)
	if s.QualityImprovement > 0 {
		delta = goodStyle.Render(delta)
	} else if s.QualityImprovement < 0 {
		delta = badStyle.Render(delta)
	}
	lines := []string{
		titleStyle.Render("Run " + resp.RunID),
		row("iterations", fmt.Sprint(s.Iterations)),
		scoreRow("initial quality", s.InitialQuality),
		scoreRow("final quality", s.FinalQuality),
		row("improvement", delta),
		row("trend", string(s.ImprovementTrend)),
		row("stopped", string(s.StopReason)),
	}
	out := []string{boxStyle.Render(strings.Join(lines, "\n"))}
	if r := resp.Result; r != nil {
		if b := bullets("Improvements", r.Improvements); b != "" {
			out = append(out, b)
		}
		if b := bullets("Regressions", r.Regressions); b != "" {
			out = append(out, b)
		}
		if r.Snapshot != nil {
			if b := bullets("Remaining issues", r.Snapshot.Issues); b != "" {
				out = append(out, b)
			}
		}
	}
	if b := bullets("Recommendations", s.Recommendations); b != "" {
		out = append(out, b)
	}
	return strings.Join(out, "\n")
}

func yesNo(b bool) string {
	if b {
		return goodStyle.Render("yes")
	}
	return badStyle.Render("no")
}
