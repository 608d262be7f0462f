package refiner

import (
	"encoding/json"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/hazyhaar/uirefine/feedback"
	"github.com/hazyhaar/uirefine/refine"
)

const promptHeader = `You are a senior front-end engineer improving the layout and accessibility of a web page.

Rewrite the page below so that it addresses the reported issues and suggestions.
Keep the content and the purpose of the page. Keep it self-contained: inline CSS only, no scripts.
Label every interactive element for screen readers and give it a visible focus style.

Reply with the complete revised HTML document in a single ` + "```html" + ` code block and nothing else.`

// BuildPrompt renders the refinement prompt for one iteration.
func BuildPrompt(markup string, snap *feedback.Snapshot, suggestions []string, reqs refine.Requirements) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\n# CURRENT EVALUATION\n")
	if snap != nil {
		fmt.Fprintf(&b, "Iteration: %d\nQuality score: %.3f (0 to 1)\n", snap.Iteration, snap.QualityScore)
		if l := snap.Layout; l != nil {
			fmt.Fprintf(&b, "Layout: spacing %.2f, alignment %.2f, hierarchy %.2f, whitespace %.2f, grid %.2f\n",
				l.SpacingConsistency, l.AlignmentScore, l.VisualHierarchy, l.WhitespaceBalance, l.GridConsistency)
		}
		if a := snap.Accessibility; a != nil {
			fmt.Fprintf(&b, "Accessibility: contrast %.2f, aria labels %t, focus indicators %t\n",
				a.ColorContrastScore, a.AriaLabelsPresent, a.FocusIndicatorsPresent)
		}
		writeList(&b, "Issues", snap.Issues)
	}
	writeList(&b, "Suggestions", suggestions)

	if len(reqs) > 0 {
		if data, err := json.MarshalIndent(reqs, "", "  "); err == nil {
			b.WriteString("\n# REQUIREMENTS\n")
			b.Write(data)
			b.WriteByte('\n')
		}
	}

	if outline := Outline(markup); outline != "" {
		b.WriteString("\n# CONTENT OUTLINE\n")
		b.WriteString(outline)
		b.WriteByte('\n')
	}

	b.WriteString("\n# CURRENT HTML\n```html\n")
	b.WriteString(markup)
	b.WriteString("\n```\n")
	return b.String()
}

// Outline renders the page content as Markdown so the model sees what must
// survive the rewrite. Conversion errors yield an empty outline.
func Outline(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(markup)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(md)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
