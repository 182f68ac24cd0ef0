// Package schemas holds the JSON Schemas that LLM responses are validated against.
package schemas

import "embed"

// Schema file names
const (
	RedditAnalysis = "reddit_analysis.schema.json"
	InsightReport  = "insight_report.schema.json"
)

// FS contains every *.schema.json file in this directory
//
//go:embed *.schema.json
var FS embed.FS
