package model

import (
	"errors"
	"fmt"
)

// ErrorCode is the value surfaced in an envelope's error field.
type ErrorCode string

const (
	ErrModeClassification  ErrorCode = "ModeClassificationError"
	ErrPlanGeneration      ErrorCode = "PlanGenerationError"
	ErrOutputFormat        ErrorCode = "OutputFormatError"
	ErrNoAppropriateColumn ErrorCode = "NoAppropriateColumn"
	ErrInvalidScale        ErrorCode = "InvalidScale"
	ErrInvalidRegion       ErrorCode = "InvalidRegion"
	ErrMissingPlanFields   ErrorCode = "MissingPlanFields"
	ErrStore               ErrorCode = "StoreError"
	ErrNoData              ErrorCode = "NoData"
	ErrNoGroupedData       ErrorCode = "NoGroupedData"
	ErrNoFinalData         ErrorCode = "NoFinalData"
	ErrExplanation         ErrorCode = "ExplanationError"
	ErrInternal            ErrorCode = "InternalError"
)

// Parent returns the taxonomy class a code belongs to.
func (c ErrorCode) Parent() ErrorCode {
	switch c {
	case ErrOutputFormat:
		return ErrPlanGeneration
	case ErrNoData, ErrNoGroupedData, ErrNoFinalData:
		return ErrStore
	}
	return c
}

// PipelineError carries a taxonomy code through the pipeline.
type PipelineError struct {
	Code  ErrorCode
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Errorf builds a PipelineError with a formatted cause.
func Errorf(code ErrorCode, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Err: fmt.Errorf(format, args...)}
}

// WrapError attaches a code and stage to err.
func WrapError(code ErrorCode, stage string, err error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Err: err}
}

// CodeOf extracts the taxonomy code of err; unknown errors are internal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}
