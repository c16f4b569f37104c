package manytomorph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure cases
var (
	// ErrUnknownMorphType is returned when a pivot row carries a type discriminator
	// that has no registered target type
	ErrUnknownMorphType = errors.New("manytomorph: unknown morph type")

	// ErrMissingTargetEntity is returned when a pivot row points at a target key
	// that the batched target query did not return
	ErrMissingTargetEntity = errors.New("manytomorph: missing target entity")

	// ErrInvalidModel is returned when a value is not a pointer to a model struct
	ErrInvalidModel = errors.New("manytomorph: invalid model")

	// ErrInvalidConfig is returned when relation config is invalid
	ErrInvalidConfig = errors.New("manytomorph: invalid relation config")

	// ErrRelationNotFound is returned when a nested relation method is not found
	ErrRelationNotFound = errors.New("manytomorph: relation not found")

	// ErrNilPointer is returned when a nil pointer is passed
	ErrNilPointer = errors.New("manytomorph: nil pointer")

	// ErrNoQueryer is returned when no database handle is configured
	ErrNoQueryer = errors.New("manytomorph: no database configured")

	// ErrDuplicateKey is returned for unique constraint violations
	ErrDuplicateKey = errors.New("manytomorph: duplicate key violation")

	// ErrForeignKey is returned for foreign key constraint violations
	ErrForeignKey = errors.New("manytomorph: foreign key constraint violation")

	// ErrInvalidColumnName is returned when an identifier is unsafe to interpolate
	ErrInvalidColumnName = errors.New("manytomorph: invalid column name")
)

// UnknownMorphTypeError reports the discriminator that could not be resolved.
type UnknownMorphTypeError struct {
	Type string
}

func (e *UnknownMorphTypeError) Error() string {
	return fmt.Sprintf("manytomorph: morph type %q is not registered", e.Type)
}

func (e *UnknownMorphTypeError) Unwrap() error {
	return ErrUnknownMorphType
}

// MissingTargetError reports a pivot row whose target no longer exists.
type MissingTargetError struct {
	Type string
	Key  any
}

func (e *MissingTargetError) Error() string {
	return fmt.Sprintf("manytomorph: pivot references missing %s #%v", e.Type, e.Key)
}

func (e *MissingTargetError) Unwrap() error {
	return ErrMissingTargetEntity
}

// QueryError wraps database errors with query context for better debugging
type QueryError struct {
	Query     string // The SQL query that failed
	Args      []any  // The query arguments
	Operation string // Operation type: SELECT, INSERT, UPDATE, DELETE
	Err       error  // The underlying error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("manytomorph: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, formatArgs(e.Args))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// RelationError wraps relation loading failures with context
type RelationError struct {
	Relation  string // Name of the relation
	ModelType string // Type of the model
	Err       error  // The underlying error
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("manytomorph: relation '%s' error on model %s: %v",
		e.Relation, e.ModelType, e.Err)
}

func (e *RelationError) Unwrap() error {
	return e.Err
}

// WrapQueryError wraps a database error with query context. The driver error
// stays reachable through errors.Is / errors.As.
func WrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "duplicate key"),
		strings.Contains(errMsg, "unique constraint"),
		strings.Contains(errMsg, "UNIQUE constraint"):
		err = fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case strings.Contains(errMsg, "foreign key"),
		strings.Contains(errMsg, "FOREIGN KEY"):
		err = fmt.Errorf("%w: %w", ErrForeignKey, err)
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
	}
}

// WrapRelationError wraps a relation error with context
func WrapRelationError(relation, modelType string, err error) error {
	if err == nil {
		return nil
	}
	return &RelationError{
		Relation:  relation,
		ModelType: modelType,
		Err:       err,
	}
}

// IsUnknownMorphType checks if the error is caused by an unregistered morph type
func IsUnknownMorphType(err error) bool {
	return errors.Is(err, ErrUnknownMorphType)
}

// IsMissingTarget checks if the error is caused by an orphaned pivot row
func IsMissingTarget(err error) bool {
	return errors.Is(err, ErrMissingTargetEntity)
}

// IsDuplicateKey checks if the error is a unique constraint violation
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsForeignKeyViolation checks if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKey)
}

// GetQueryError extracts the QueryError from err, or nil.
func GetQueryError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return nil
}

// IsConstraintViolation checks if the error is a constraint violation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrForeignKey)
}

// formatArgs formats query arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
