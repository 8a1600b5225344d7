package domain

import "context"

// InferenceTask discriminates the two structured-extraction calls the
// pipeline makes against the inference service.
type InferenceTask string

const (
	TaskDiscoverRequirements InferenceTask = "discover_requirements"
	TaskSuggestControls      InferenceTask = "suggest_controls"
)

// InferencePayload carries the text passage plus its scope. DocumentName
// and SectionNumber are set for discovery calls only.
type InferencePayload struct {
	DocumentName  string
	SectionNumber string
	Text          string
}

// Records is the loosely typed shape of an inference response: a list of
// string-keyed maps. Records are validated and converted into the strongly
// typed Requirement/Control shapes at the extraction stage boundary.
type Records []map[string]any

// InferenceClient is the external text-understanding boundary. The pipeline
// knows nothing about model, vendor, or prompt wording behind it.
//
// A failed or malformed call returns a *InferenceError; callers decide
// whether that means "empty contribution" or "propagate".
type InferenceClient interface {
	Infer(ctx context.Context, task InferenceTask, payload InferencePayload) (Records, error)
}
