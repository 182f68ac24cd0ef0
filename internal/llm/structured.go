package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jonathan/fewknow/internal/schemas"
)

// DefaultStructuredAttempts is the first call plus one repair retry
const DefaultStructuredAttempts = 2

// DefaultRepairTemplate is appended to the prompt after a schema failure. {{.Errors}} lists the problems.
const DefaultRepairTemplate = "Your previous response did not match the required JSON Schema.\n\nProblems found:\n{{.Errors}}\nReturn the corrected JSON object only."

// StructuredRequest describes a schema-enforced JSON generation
type StructuredRequest struct {
	System         string
	Prompt         string
	Schema         string // embedded schema file name
	Tier           ModelTier
	RepairTemplate string
	MaxAttempts    int
}

// GenerateStructured asks the model for JSON, validates it against req.Schema and decodes it into out.
// A response that fails validation is retried with the validation errors appended to the prompt.
// When every attempt fails validation a *SchemaError is returned. Provider errors are returned as-is.
func GenerateStructured(ctx context.Context, client Client, req StructuredRequest, out any) error {
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultStructuredAttempts
	}
	repairTemplate := req.RepairTemplate
	if repairTemplate == "" {
		repairTemplate = DefaultRepairTemplate
	}

	prompt := req.Prompt
	var last *schemas.ValidationError
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := generateJSON(ctx, client, req.System, prompt, req.Tier)
		if err != nil {
			return err
		}
		raw = CleanJSONBlock(raw)

		verr := validateAndDecode(req.Schema, raw, out)
		if verr == nil {
			return nil
		}
		if !errors.As(verr, &last) {
			return verr
		}
		prompt = repairPrompt(req.Prompt, raw, repairTemplate, last)
	}

	return &SchemaError{Schema: req.Schema, Attempts: attempts, Last: last}
}

func generateJSON(ctx context.Context, client Client, system, prompt string, tier ModelTier) (string, error) {
	if sc, ok := client.(SystemPromptClient); ok {
		return sc.GenerateJSONWithSystem(ctx, system, prompt, tier)
	}
	if system != "" {
		prompt = system + "\n\n" + prompt
	}
	return client.GenerateJSON(ctx, prompt, tier)
}

func validateAndDecode(schema, raw string, out any) error {
	if err := schemas.Validate(schema, raw); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &schemas.ValidationError{
			Schema: schema,
			Errors: []schemas.FieldError{{Field: "(root)", Message: err.Error()}},
		}
	}
	return nil
}

func repairPrompt(original, previous, template string, verr *schemas.ValidationError) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(Truncate(previous, 4000))
	sb.WriteString("\n\n")
	sb.WriteString(strings.ReplaceAll(template, "{{.Errors}}", verr.Summary()))
	return sb.String()
}
