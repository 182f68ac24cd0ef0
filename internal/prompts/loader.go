// Package prompts holds the LLM prompt templates for the two synthesis calls.
// Each JSON file maps a key to a template with {{.Name}} placeholders and is embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// File names one embedded prompt file
type File string

const (
	// SentimentFile drives the Reddit sentiment extraction call
	SentimentFile File = "sentiment.json"
	// InsightFile drives the report synthesis call
	InsightFile File = "insight.json"
)

// Keys every prompt file must define
const (
	KeySystem = "system"
	KeyRepair = "repair"
)

//go:embed *.json
var promptFiles embed.FS

var placeholderPattern = regexp.MustCompile(`\{\{\.([A-Za-z][A-Za-z0-9]*)\}\}`)

// library parses every embedded file on first use
var library = sync.OnceValues(func() (map[File]map[string]string, error) {
	return parseAll(promptFiles)
})

func parseAll(fsys fs.FS) (map[File]map[string]string, error) {
	names, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}
	out := make(map[File]map[string]string, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}
		var templates map[string]string
		if err := json.Unmarshal(data, &templates); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", name, err)
		}
		out[File(name)] = templates
	}
	return out, nil
}

// Get returns the raw template stored under key in file
func Get(file File, key string) (string, error) {
	lib, err := library()
	if err != nil {
		return "", err
	}
	templates, ok := lib[file]
	if !ok {
		return "", fmt.Errorf("prompt file %s not found", file)
	}
	template, ok := templates[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, file)
	}
	return template, nil
}

// MustGet is Get for templates the service cannot run without; it panics on a missing template.
func MustGet(file File, key string) string {
	template, err := Get(file, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return template
}

// Render loads a template and fills it from data.
// A placeholder left without a value is an error so no prompt reaches the model half-built.
func Render(file File, key string, data map[string]string) (string, error) {
	template, err := Get(file, key)
	if err != nil {
		return "", err
	}
	var missing []string
	for _, name := range Placeholders(template) {
		if _, ok := data[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt %s/%s has no value for %s", file, key, strings.Join(missing, ", "))
	}
	return Format(template, data), nil
}

// Format substitutes {{.Name}} placeholders with values from data, leaving unknown ones in place
func Format(template string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := data[name]; ok {
			return v
		}
		return match
	})
}

// Placeholders lists the distinct placeholder names in a template, sorted
func Placeholders(template string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	slices.Sort(names)
	return names
}

// Keys returns the template keys defined in file, sorted
func Keys(file File) ([]string, error) {
	lib, err := library()
	if err != nil {
		return nil, err
	}
	templates, ok := lib[file]
	if !ok {
		return nil, fmt.Errorf("prompt file %s not found", file)
	}
	keys := make([]string, 0, len(templates))
	for key := range templates {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}
