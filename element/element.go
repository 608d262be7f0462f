// Package element models the visual elements the quality analysers reason
// about, and extracts them from raw markup.
//
// Extraction is a heuristic, not a layout engine: elements get synthetic
// positions on a vertical stack so that counts, ordering and relative
// geometry stay deterministic for a given markup.
package element

import (
	"fmt"
	"strings"
)

// Kind is the visual role of an element.
type Kind int

const (
	Button Kind = iota
	Text
	Image
	Input
	Container
	Navigation
	Header
	Footer
	Sidebar
	Modal
	Card
	List
	Grid
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	Button, Text, Image, Input, Container, Navigation,
	Header, Footer, Sidebar, Modal, Card, List, Grid,
}

func (k Kind) String() string {
	switch k {
	case Button:
		return "button"
	case Text:
		return "text"
	case Image:
		return "image"
	case Input:
		return "input"
	case Container:
		return "container"
	case Navigation:
		return "navigation"
	case Header:
		return "header"
	case Footer:
		return "footer"
	case Sidebar:
		return "sidebar"
	case Modal:
		return "modal"
	case Card:
		return "card"
	case List:
		return "list"
	case Grid:
		return "grid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a name produced by Kind.String back to its Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("element: unknown kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Element is one visual element. Values are immutable once extracted.
type Element struct {
	Kind   Kind   `json:"kind"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Text   string `json:"text,omitempty"`
}

// Area returns Width*Height, or 0 for degenerate boxes.
func (e Element) Area() int {
	if e.Width <= 0 || e.Height <= 0 {
		return 0
	}
	return e.Width * e.Height
}

// Bottom is the y coordinate of the element's lower edge.
func (e Element) Bottom() int { return e.Y + e.Height }
