package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/uirefine/refine"
)

// readInput reads a file, or stdin for "-".
func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// readRequirements loads a JSON or YAML requirements object.
func readRequirements(path string) (refine.Requirements, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requirements: %w", err)
	}
	var reqs refine.Requirements
	if json.Valid(data) {
		err = json.Unmarshal(data, &reqs)
	} else {
		err = yaml.Unmarshal(data, &reqs)
	}
	if err != nil {
		return nil, fmt.Errorf("parse requirements %s: %w", path, err)
	}
	return reqs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
