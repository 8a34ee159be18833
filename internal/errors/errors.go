// Package errors provides unified error handling for the transcription
// pipeline. Every failure carries a Code so callers can distinguish fatal
// session errors from per-window recoverable ones.
package errors

import "fmt"

// Code classifies pipeline failures.
type Code int

const (
	CodeUnknown     Code = iota
	CodeDevice           // audio source failure, non-fatal
	CodeDeviceFatal      // audio source failure, session cannot continue
	CodeModelLoad        // model file missing or unreadable, aborts start
	CodeRecognition      // one window produced no text
	CodeEmbedding        // one frame has no speaker embedding
	CodeConfig           // invalid configuration
	CodeStopped          // operation on a stopped pipeline
)

var codeNames = map[Code]string{
	CodeUnknown:     "UNKNOWN",
	CodeDevice:      "DEVICE",
	CodeDeviceFatal: "DEVICE_FATAL",
	CodeModelLoad:   "MODEL_LOAD",
	CodeRecognition: "RECOGNITION",
	CodeEmbedding:   "EMBEDDING",
	CodeConfig:      "CONFIG",
	CodeStopped:     "STOPPED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// PipelineError is the base error type with structured code and metadata.
type PipelineError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *PipelineError) Unwrap() error { return e.Cause }

// New creates a new PipelineError with the given code and message.
func New(code Code, msg string) *PipelineError {
	return &PipelineError{Code: code, Message: msg}
}

// Newf creates a new PipelineError with formatted message.
func Newf(code Code, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a PipelineError.
func Wrap(err error, code Code, msg string) *PipelineError {
	return &PipelineError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to a PipelineError.
func (e *PipelineError) WithMetadata(key, value string) *PipelineError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of an error, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsFatal reports whether the error should end the session. Per-window
// recognition and embedding failures are absorbed by the processing loop;
// device loss, model-load and config failures are not.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeDeviceFatal, CodeModelLoad, CodeConfig:
		return true
	default:
		return false
	}
}
