// Command uirefine scores generated HTML for layout and accessibility
// quality and iteratively refines it through a rendering browser and a
// language model.
//
// Usage:
//
//	uirefine score page.html                 # one evaluation, no browser
//	uirefine run page.html -o refined.html   # full refinement loop
//	uirefine serve -c uirefine.yaml          # HTTP API
//	uirefine mcp                             # MCP server on stdio
package main

import (
	"os"
)

var version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
