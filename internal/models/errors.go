package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when no pages or documents were supplied.
	ErrEmptyInput = errors.New("empty input: no documents ingested")
	// ErrUnsupportedFormat is returned for documents whose type cannot be extracted.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrAlreadyIndexed is returned by an index in reject mode when a chunk identity is already stored.
	ErrAlreadyIndexed = errors.New("chunk already indexed")
	// ErrIndexNotBuilt is returned when searching an index that was never built.
	ErrIndexNotBuilt = errors.New("index not built")
	// ErrEmptyIndex is returned when searching an index that holds zero chunks.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrInvalidTopic is returned when a topic is still empty after normalization.
	ErrInvalidTopic = errors.New("invalid topic")
	// ErrGenerationSchema is returned when the model output fails parsing or validation after retry.
	ErrGenerationSchema = errors.New("generated output does not match the question schema")
	// ErrGenerationTimeout is returned when a generation call exceeds its timeout.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrInvalidCount is returned when the requested question count is outside [1, 10].
	ErrInvalidCount = errors.New("invalid question count")
	// ErrInsufficientUniqueQuestions is returned when de-duplication retries are exhausted.
	ErrInsufficientUniqueQuestions = errors.New("insufficient unique questions")
	// ErrEmptyBank is returned when a navigator is created over an empty bank.
	ErrEmptyBank = errors.New("quiz bank is empty")
)

// SchemaError describes a generation whose output stayed invalid after retry
type SchemaError struct {
	Attempts     int
	Raw          string
	EmptyContext bool
	Err          error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrGenerationSchema, e.Attempts, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrGenerationSchema }

// Describe turns a pipeline error into a message fit for an end user
func Describe(err error) string {
	var schemaErr *SchemaError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrEmptyIndex), errors.Is(err, ErrIndexNotBuilt):
		return "No documents ingested: upload at least one document with extractable text."
	case errors.As(err, &schemaErr) && schemaErr.EmptyContext:
		return "Topic retrieval empty: nothing in the documents matched the topic, and the LLM returned malformed output after retry."
	case errors.Is(err, ErrGenerationSchema):
		return "The LLM returned malformed output after retry."
	case errors.Is(err, ErrInsufficientUniqueQuestions):
		return "Requested more unique questions than could be generated; try a smaller count or a broader topic."
	case errors.Is(err, ErrGenerationTimeout):
		return "The LLM did not answer in time."
	case errors.Is(err, ErrInvalidCount):
		return fmt.Sprintf("The number of questions must be between %d and %d.", MinQuestionCount, MaxQuestionCount)
	case errors.Is(err, ErrUnsupportedFormat):
		return "One of the documents has an unsupported format."
	default:
		return err.Error()
	}
}
