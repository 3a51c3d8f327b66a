package models

// SuggestionSource tells where a suggestion came from.
type SuggestionSource string

const (
	SourceLLM      SuggestionSource = "llm"
	SourceFallback SuggestionSource = "fallback"
)

// Suggestion is a named, pre-validated parameter bundle.
type Suggestion struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	Params             ConversionParams `json:"params"`
	Constraint         SizeConstraint   `json:"sizeConstraint"`
	EstimatedSizeBytes int64            `json:"estimatedSizeBytes"`
	Source             SuggestionSource `json:"source"`
}
