package weighing

import "fmt"

// InvalidStateError is returned when a lifecycle operation is attempted on a
// weighing whose current state does not allow it (for example, a second mass
// capture before the first, or cancelling a completed weighing).
type InvalidStateError struct {
	Weighing  string
	State     State
	Operation string
}

// Error returns a textual description of the error.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("weighing %s: %s is not allowed in state %q", e.Weighing, e.Operation, e.State)
}

// NewInvalidStateError creates a new InvalidStateError for the given weighing,
// its current state and the operation that was rejected.
func NewInvalidStateError(weighing string, state State, operation string) *InvalidStateError {
	return &InvalidStateError{Weighing: weighing, State: state, Operation: operation}
}

// NoMassAvailableError is returned when a mass capture cannot resolve a
// positive reading, neither from the weighing's own live value nor from the
// shared-scale fallback.
type NoMassAvailableError struct {
	Weighing string
}

// Error returns a textual description of the error.
func (e *NoMassAvailableError) Error() string {
	return fmt.Sprintf("weighing %s: no positive scale reading available, check that the bridge is sending data", e.Weighing)
}

// NewNoMassAvailableError creates a new NoMassAvailableError.
func NewNoMassAvailableError(weighing string) *NoMassAvailableError {
	return &NoMassAvailableError{Weighing: weighing}
}

// MissingPriorMassError is returned by the second mass capture when the field
// set by the first capture is unset or non-positive.
type MissingPriorMassError struct {
	Weighing string
	Field    string
}

// Error returns a textual description of the error.
func (e *MissingPriorMassError) Error() string {
	return fmt.Sprintf("weighing %s: %s from the first capture is missing or non-positive", e.Weighing, e.Field)
}

// NewMissingPriorMassError creates a new MissingPriorMassError naming the
// missing first-stage field.
func NewMissingPriorMassError(weighing, field string) *MissingPriorMassError {
	return &MissingPriorMassError{Weighing: weighing, Field: field}
}

// NonPositiveNetMassError is returned when completing a weighing would yield a
// zero or negative net mass. Both offending values are carried so the operator
// can correct the input without inspecting logs.
type NonPositiveNetMassError struct {
	Weighing  string
	GrossMass float64
	TareMass  float64
}

// Error returns a textual description of the error.
func (e *NonPositiveNetMassError) Error() string {
	return fmt.Sprintf("weighing %s: net mass must be positive (gross %.2f kg, tare %.2f kg)",
		e.Weighing, e.GrossMass, e.TareMass)
}

// NewNonPositiveNetMassError creates a new NonPositiveNetMassError.
func NewNonPositiveNetMassError(weighing string, gross, tare float64) *NonPositiveNetMassError {
	return &NonPositiveNetMassError{Weighing: weighing, GrossMass: gross, TareMass: tare}
}

// DirectionMismatchError is returned when a weighing's direction contradicts
// the fixed direction declared by its operation type.
type DirectionMismatchError struct {
	Weighing  string
	Operation string
	Expected  Direction
	Actual    Direction
}

// Error returns a textual description of the error.
func (e *DirectionMismatchError) Error() string {
	return fmt.Sprintf("weighing %s: operation type %q requires direction %q, got %q",
		e.Weighing, e.Operation, e.Expected, e.Actual)
}

// NewDirectionMismatchError creates a new DirectionMismatchError.
func NewDirectionMismatchError(weighing, operation string, expected, actual Direction) *DirectionMismatchError {
	return &DirectionMismatchError{Weighing: weighing, Operation: operation, Expected: expected, Actual: actual}
}

// NotFoundError is returned when a weighing or service order id does not
// resolve to a stored record.
type NotFoundError struct {
	Kind string
	ID   string
}

// Error returns a textual description of the error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError creates a new NotFoundError for the given record kind and id.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ClientMismatchError is returned when a weighing is linked to a service order
// belonging to a different client.
type ClientMismatchError struct {
	Weighing string
	Partner  string
	Order    string
	Client   string
}

// Error returns a textual description of the error.
func (e *ClientMismatchError) Error() string {
	return fmt.Sprintf("weighing %s belongs to %q but service order %s belongs to %q; only weighings of the same client can be linked",
		e.Weighing, e.Partner, e.Order, e.Client)
}

// NewClientMismatchError creates a new ClientMismatchError.
func NewClientMismatchError(weighing, partner, order, client string) *ClientMismatchError {
	return &ClientMismatchError{Weighing: weighing, Partner: partner, Order: order, Client: client}
}

// UnknownOperationError is returned when a weighing references an operation
// type code that is not present in the configured catalog.
type UnknownOperationError struct {
	Code string
}

// Error returns a textual description of the error.
func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation type: %q", e.Code)
}

// NewUnknownOperationError creates a new UnknownOperationError.
func NewUnknownOperationError(code string) *UnknownOperationError {
	return &UnknownOperationError{Code: code}
}
