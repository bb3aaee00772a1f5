package weighing

import "time"

// Direction of a weighing: whether the truck brings cargo into the plant or
// takes it out. The direction decides which capture fills which mass field.
type Direction string

const (
	DirectionInbound  Direction = "entrada"
	DirectionOutbound Direction = "salida"
)

// State of a weighing in its lifecycle. A weighing is created in draft, moves
// to in-transit after the first capture, to completed after the second, and
// may be cancelled at any point before completion.
type State string

const (
	StateDraft     State = "draft"
	StateInTransit State = "in_transit"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Weighing represents one truck's pass over the scale for one direction.
// The double-capture protocol is the scale house's core safety mechanism:
// every trusted net mass passes through exactly two captures, so a single
// bogus reading can never become a settlement weight.
type Weighing struct {
	// ID — stable record identifier.
	ID string
	// Name — sequential operator-facing ticket number (e.g. "PES-00042").
	Name string
	// Direction — inbound or outbound.
	Direction Direction
	// OperationType — reference into the configured catalog.
	OperationType *OperationType
	// State — current lifecycle state.
	State State

	// GrossMass — vehicle plus cargo, in kg.
	GrossMass float64
	// TareMass — empty vehicle, in kg.
	TareMass float64
	// NetMass — gross minus tare; derived, set at completion.
	NetMass float64

	// LiveMass — ephemeral reading pushed by the external scale bridge.
	// Never trusted directly: it only feeds the two-capture protocol.
	LiveMass float64
	// Listening — whether the bridge has fed this weighing recently.
	Listening bool

	// Plate — vehicle plate, reported back to the bridge display.
	Plate string
	// Partner — the farmer or client the cargo belongs to.
	Partner string
	// Product — product reference used for rule matching.
	Product string
	// Variety — rice variety, informational.
	Variety string
	// ServiceOrderID — owning service order, empty for purchase/sale weighings.
	ServiceOrderID string
	// Price — agreed unit price; mandatory when the operation type requires it.
	Price float64

	// EntryTime — stamped by the first capture.
	EntryTime time.Time
	// ExitTime — stamped by the second capture.
	ExitTime time.Time
	// UpdatedAt — last mutation time; the shared-scale fallback orders by it.
	UpdatedAt time.Time
}

// ValidateDirection checks that the weighing's direction matches the fixed
// direction of its operation type, when one is declared. Must be re-run
// whenever the direction or the operation type changes.
func (w *Weighing) ValidateDirection() error {
	if w.OperationType == nil || w.OperationType.FixedDirection == "" {
		return nil
	}
	if w.Direction != w.OperationType.FixedDirection {
		return NewDirectionMismatchError(w.Name, w.OperationType.Name, w.OperationType.FixedDirection, w.Direction)
	}
	return nil
}

// RecordFirstMass applies the first capture with the already resolved mass.
// Valid only in draft. Inbound weighings record the gross mass first (loaded
// truck arrives), outbound weighings record the tare first (empty truck
// arrives). Transitions to in-transit and stamps the entry time.
func (w *Weighing) RecordFirstMass(mass float64, at time.Time) error {
	if w.State != StateDraft {
		return NewInvalidStateError(w.Name, w.State, "first mass capture")
	}
	if mass <= 0 {
		return NewNoMassAvailableError(w.Name)
	}

	if w.Direction == DirectionInbound {
		w.GrossMass = mass
	} else {
		w.TareMass = mass
	}

	w.EntryTime = at
	w.State = StateInTransit
	w.UpdatedAt = at
	return nil
}

// RecordSecondMass applies the second capture with the already resolved mass.
// Valid only in in-transit. Fills the field complementary to the first
// capture, derives the net mass and requires it to be strictly positive.
// Transitions to completed and stamps the exit time.
func (w *Weighing) RecordSecondMass(mass float64, at time.Time) error {
	if w.State != StateInTransit {
		return NewInvalidStateError(w.Name, w.State, "second mass capture")
	}
	if mass <= 0 {
		return NewNoMassAvailableError(w.Name)
	}

	if w.Direction == DirectionInbound {
		if w.GrossMass <= 0 {
			return NewMissingPriorMassError(w.Name, "gross mass")
		}
		w.TareMass = mass
	} else {
		if w.TareMass <= 0 {
			return NewMissingPriorMassError(w.Name, "tare mass")
		}
		w.GrossMass = mass
	}

	net := w.GrossMass - w.TareMass
	if net <= 0 {
		err := NewNonPositiveNetMassError(w.Name, w.GrossMass, w.TareMass)
		// Roll back the field written above: a failed completion must leave
		// no partial capture behind.
		if w.Direction == DirectionInbound {
			w.TareMass = 0
		} else {
			w.GrossMass = 0
		}
		return err
	}

	w.NetMass = net
	w.ExitTime = at
	w.State = StateCompleted
	w.UpdatedAt = at
	return nil
}

// Cancel moves the weighing to cancelled. A completed weighing is immutable
// and can never be cancelled.
func (w *Weighing) Cancel(at time.Time) error {
	if w.State == StateCompleted {
		return NewInvalidStateError(w.Name, w.State, "cancel")
	}
	w.State = StateCancelled
	w.UpdatedAt = at
	return nil
}

// Active reports whether the weighing is still waiting for a capture, i.e.
// the scale bridge should keep feeding it.
func (w *Weighing) Active() bool {
	return w.State == StateDraft || w.State == StateInTransit
}
