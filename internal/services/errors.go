package services

import (
	"errors"
	"fmt"
)

// Error codes surfaced to API clients.
const (
	CodeUnknownConverter   = "UNKNOWN_CONVERTER"
	CodeLLMError           = "LLM_ERROR"
	CodeTemplateNotReady   = "TEMPLATE_NOT_READY"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeInvalidFileType    = "INVALID_FILE_TYPE"
	CodeConversionNotFound = "CONVERSION_NOT_FOUND"
	CodeTemplateNotFound   = "TEMPLATE_NOT_FOUND"
	CodeHasConversions     = "HAS_CONVERSIONS"
	CodeConverterError     = "CONVERTER_ERROR"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNoHTML             = "NO_HTML"
	CodeNoImages           = "NO_IMAGES"
	CodeImageNotFound      = "IMAGE_NOT_FOUND"
	CodeInvalidStatus      = "INVALID_STATUS"
)

var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrConversionNotFound = errors.New("conversion not found")
	ErrImageNotFound      = errors.New("image not found")
)

// AppError carries a stable code for the API layer alongside the cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func validationError(format string, args ...any) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first AppError in err's chain, mapping the
// bare not-found sentinels as well. Unknown errors yield "".
func CodeOf(err error) string {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Code
	case errors.Is(err, ErrTemplateNotFound):
		return CodeTemplateNotFound
	case errors.Is(err, ErrConversionNotFound):
		return CodeConversionNotFound
	case errors.Is(err, ErrImageNotFound):
		return CodeImageNotFound
	}
	return ""
}
