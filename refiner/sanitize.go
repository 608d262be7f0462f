package refiner

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// Policy returns the sanitising policy applied to model output. It keeps
// document structure, form controls, inline styling and ARIA attributes,
// and drops scripts, event handlers and embedded frames.
func Policy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.RequireNoFollowOnLinks(false)

		// <style> blocks carry focus styles; AllowUnsafe keeps their text.
		p.AllowUnsafe(true)
		p.AllowElements("html", "head", "body", "title", "style", "main", "nav", "header", "footer",
			"section", "article", "aside", "form", "fieldset", "legend", "label", "button",
			"input", "textarea", "select", "option", "optgroup")
		p.AllowAttrs("lang").OnElements("html")
		p.AllowAttrs("type", "name", "value", "placeholder", "disabled", "checked", "required",
			"autocomplete", "min", "max", "step", "multiple", "selected").
			OnElements("input", "button", "select", "textarea", "option")
		p.AllowAttrs("for").OnElements("label")
		p.AllowAttrs("action", "method").OnElements("form")

		p.AllowAttrs("id", "class", "style", "role", "tabindex", "title").Globally()
		p.AllowAttrs("aria-label", "aria-labelledby", "aria-describedby", "aria-hidden",
			"aria-expanded", "aria-controls", "aria-current", "aria-live", "aria-required").Globally()
		policy = p
	})
	return policy
}

// Sanitize filters markup through Policy.
func Sanitize(markup string) string {
	return Policy().Sanitize(markup)
}
