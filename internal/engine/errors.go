package engine

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(domain, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", domain, id),
	}
}

func UnknownDomainError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_DOMAIN",
		Status:  404,
		Message: fmt.Sprintf("Unknown domain: %s", name),
	}
}

func UnconfiguredDomainError(name string) *AppError {
	return &AppError{
		Code:    "DOMAIN_NOT_CONFIGURED",
		Status:  404,
		Message: fmt.Sprintf("Domain %s has not been configured from a spreadsheet yet", name),
	}
}

func BadRequestError(msg string) *AppError {
	return &AppError{Code: "BAD_REQUEST", Status: 400, Message: msg}
}

func MediaConstraintError(column string, cause error) *AppError {
	return &AppError{
		Code:    "MEDIA_CONSTRAINT",
		Status:  400,
		Message: fmt.Sprintf("Invalid media payload for column %s: %v", column, cause),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func StillInUseError(domain string) *AppError {
	return &AppError{
		Code:    "STILL_IN_USE",
		Status:  400,
		Message: fmt.Sprintf("Cannot delete: this %s record is still referenced", domain),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}
