// Package shared содержит доменные ошибки, общие для всех пакетов домена.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Базовые категории. Проверяются через errors.Is и определяют HTTP-статус.
var (
	ErrNotFound = errors.New("entity not found")

	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError - ошибка с контекстом: где произошла, какой категории и что
// показать клиенту. Message безопасно отдавать наружу, Err - нет.
type DomainError struct {
	Domain  string // decision, notion, sheets
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s: %s", e.Domain, e.Op, e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap отдаёт причину, а при её отсутствии - категорию.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is совпадает и по категории, и по причине.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

func newError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError добавляет доменный контекст к err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	e := newError(domain, op, kind, message)
	e.Err = err
	return e
}

// Ошибки решений.
var (
	ErrInvalidCycle      = newError("decision", "Validate", ErrInvalidInput, "cycle must be 1 or 2")
	ErrEmptyStudentID    = newError("decision", "Validate", ErrEmptyValue, "student id is required")
	ErrEmptyStudentIDs   = newError("decision", "BulkGet", ErrEmptyValue, "studentIds must be a non-empty array")
	ErrDecisionStoreDown = newError("decision", "Store", ErrServiceUnavailable, "decision store is unavailable")
)

// Ошибки источников.
var (
	ErrNotionInvalidResponse = newError("notion", "Parse", ErrExternalService, "invalid response from Notion API")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation - ошибка во входных данных клиента (HTTP 400).
func IsValidation(err error) bool {
	for _, kind := range []error{ErrValidation, ErrInvalidInput, ErrEmptyValue} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsExternalService - сбой Notion, Sheets или хранилища (HTTP 502/503).
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) || errors.Is(err, ErrServiceUnavailable)
}
