// Package steps defines the fixed stage sequence of an analysis run: names, progress checkpoints,
// status messages, the stages each one depends on, and which stages may fail without failing the job.
package steps

import (
	"fmt"
)

// Step names
const (
	Start      = "start"
	Validate   = "validate_ticker"
	Financials = "financial_data"
	News       = "news"
	Reddit     = "reddit"
	Sentiment  = "sentiment"
	Report     = "insight_report"
	Finalize   = "finalize"
)

// StepDefinition defines metadata for a pipeline stage
type StepDefinition struct {
	Name         string
	Progress     int
	Message      string
	Dependencies []string
	// Degradable stages record Fallback as a report limitation instead of failing the job
	Degradable bool
	Fallback   string
}

// Ordered lists the stages in execution order
var Ordered = mustSequence([]StepDefinition{
	{
		Name:     Start,
		Progress: 0,
		Message:  "Starting analysis...",
	},
	{
		Name:         Validate,
		Progress:     10,
		Message:      "Validating ticker...",
		Dependencies: []string{Start},
	},
	{
		Name:         Financials,
		Progress:     25,
		Message:      "Fetching financial data...",
		Dependencies: []string{Validate},
	},
	{
		Name:         News,
		Progress:     40,
		Message:      "Fetching recent news...",
		Dependencies: []string{Validate, Financials},
		Degradable:   true,
		Fallback:     "Recent news unavailable; no news coverage included",
	},
	{
		Name:         Reddit,
		Progress:     55,
		Message:      "Collecting Reddit discussions...",
		Dependencies: []string{Validate, Financials},
		Degradable:   true,
		Fallback:     "Reddit discussion unavailable; retail sentiment not assessed",
	},
	{
		Name:         Sentiment,
		Progress:     75,
		Message:      "Analyzing sentiment with AI...",
		Dependencies: []string{Reddit},
	},
	{
		Name:         Report,
		Progress:     90,
		Message:      "Generating insight report...",
		Dependencies: []string{Financials, News, Sentiment},
	},
	{
		Name:         Finalize,
		Progress:     100,
		Message:      "Analysis complete!",
		Dependencies: []string{Report},
	},
})

func mustSequence(seq []StepDefinition) []StepDefinition {
	if err := ValidateSequence(seq); err != nil {
		panic(err)
	}
	return seq
}

// StepRegistry indexes Ordered by name
var StepRegistry = func() map[string]StepDefinition {
	m := make(map[string]StepDefinition, len(Ordered))
	for _, def := range Ordered {
		m[def.Name] = def
	}
	return m
}()

// GetStepDefinition returns the definition for a stage
func GetStepDefinition(name string) (StepDefinition, error) {
	def, ok := StepRegistry[name]
	if !ok {
		return StepDefinition{}, fmt.Errorf("unknown step: %s", name)
	}
	return def, nil
}

// MustGet returns the definition for a stage and panics on an unknown name
func MustGet(name string) StepDefinition {
	def, err := GetStepDefinition(name)
	if err != nil {
		panic(err)
	}
	return def
}

// DependencyError is returned when a stage is ordered before one of its dependencies
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %s depends on steps that do not run before it: %v", e.Step, e.MissingDependencies)
}

// ValidateSequence checks that checkpoints strictly increase from 0 to 100, that
// every dependency runs before the stage that needs it, and that degradable stages carry a fallback note.
func ValidateSequence(seq []StepDefinition) error {
	if len(seq) == 0 {
		return fmt.Errorf("empty step sequence")
	}
	if seq[0].Progress != 0 || seq[len(seq)-1].Progress != 100 {
		return fmt.Errorf("step sequence must start at 0 and end at 100")
	}

	seen := make(map[string]bool, len(seq))
	for i, def := range seq {
		if i > 0 && def.Progress <= seq[i-1].Progress {
			return fmt.Errorf("step %s: progress %d does not advance past %d", def.Name, def.Progress, seq[i-1].Progress)
		}
		if def.Degradable && def.Fallback == "" {
			return fmt.Errorf("step %s: degradable without a fallback note", def.Name)
		}
		var missing []string
		for _, dep := range def.Dependencies {
			if !seen[dep] {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return &DependencyError{Step: def.Name, MissingDependencies: missing}
		}
		seen[def.Name] = true
	}
	return nil
}
