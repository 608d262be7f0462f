package element

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MaxPerCategory bounds how many elements of each extracted category are
// emitted. Occurrences beyond it are ignored.
const MaxPerCategory = 5

const (
	stackX    = 10
	stackTopY = 20
	maxText   = 200
)

type category int

const (
	catNone category = iota
	catButton
	catInput
	catText
)

// Extract scans markup for button-like, input-like and heading/paragraph
// markers and lays the matches out on a synthetic vertical stack: buttons
// first (100x40, 60px step), then inputs (200x40, 60px step), then text
// blocks (300x30, 50px step). Tag names are matched case-insensitively.
func Extract(markup string) []Element {
	if strings.TrimSpace(markup) == "" {
		return nil
	}

	z := html.NewTokenizer(strings.NewReader(markup))

	var (
		capTag   string
		capDepth int
		capBuf   strings.Builder
		capDst   *string
	)
	flush := func() {
		if capDst != nil {
			if text := collapse(capBuf.String()); text != "" {
				*capDst = text
			}
		}
		capTag, capDepth, capDst = "", 0, nil
		capBuf.Reset()
	}

	// Captured text is written through pointers into these slices, so they
	// are sized up front and never reallocated.
	buttons := make([]string, 0, MaxPerCategory)
	inputs := make([]string, 0, MaxPerCategory)
	texts := make([]string, 0, MaxPerCategory)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF, or a reader error a strings.Reader never produces.
			flush()
			return layout(buttons, inputs, texts)

		case html.TextToken:
			if capDst != nil {
				capBuf.Write(z.Text())
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if capDst != nil && string(name) == capTag {
				if capDepth == 0 {
					flush()
				} else {
					capDepth--
				}
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if capDst != nil && tok.Data == capTag && tt == html.StartTagToken {
				capDepth++
			}

			cat := classify(tok)
			if cat == catNone {
				continue
			}

			var dst *[]string
			switch cat {
			case catButton:
				dst = &buttons
			case catInput:
				dst = &inputs
			case catText:
				dst = &texts
			}
			if len(*dst) >= MaxPerCategory {
				continue
			}

			*dst = append(*dst, labelOf(tok))
			if cat == catInput || tt == html.SelfClosingTagToken || isVoid(tok.Data) {
				continue
			}
			flush()
			capTag = tok.Data
			capDst = &(*dst)[len(*dst)-1]
		}
	}
}

func layout(buttons, inputs, texts []string) []Element {
	n := len(buttons) + len(inputs) + len(texts)
	if n == 0 {
		return nil
	}
	out := make([]Element, 0, n)
	y := stackTopY
	for _, t := range buttons {
		out = append(out, Element{Kind: Button, X: stackX, Y: y, Width: 100, Height: 40, Text: t})
		y += 60
	}
	for _, t := range inputs {
		out = append(out, Element{Kind: Input, X: stackX, Y: y, Width: 200, Height: 40, Text: t})
		y += 60
	}
	for _, t := range texts {
		out = append(out, Element{Kind: Text, X: stackX, Y: y, Width: 300, Height: 30, Text: t})
		y += 50
	}
	return out
}

func classify(tok html.Token) category {
	if attr(tok, "role") == "button" {
		return catButton
	}
	switch tok.Data {
	case "button":
		return catButton
	case "input":
		switch strings.ToLower(attr(tok, "type")) {
		case "button", "submit", "reset", "image":
			return catButton
		case "hidden":
			return catNone
		}
		return catInput
	case "textarea", "select":
		return catInput
	case "h1", "h2", "h3", "h4", "h5", "h6", "p":
		return catText
	}
	return catNone
}

// labelOf returns the text an element carries in its attributes. Element
// content, when any, replaces it once the closing tag is seen.
func labelOf(tok html.Token) string {
	for _, key := range []string{"aria-label", "value", "placeholder", "name"} {
		if v := attr(tok, key); v != "" {
			return collapse(v)
		}
	}
	return ""
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func isVoid(tag string) bool {
	switch tag {
	case "area", "base", "br", "col", "embed", "hr", "img", "input",
		"link", "meta", "source", "track", "wbr":
		return true
	}
	return false
}

func collapse(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxText {
		n := maxText
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s
}
