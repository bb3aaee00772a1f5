package weighing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"secadora/internal/utils"
)

// Reading is a single live value pushed by the scale bridge.
type Reading struct {
	Mass float64
	At   time.Time
}

// Repository is a thread-safe in-memory store of weighings. It owns the
// live-reading bookkeeping: every bridge push is recorded into a short ring
// buffer per weighing, and readings that stop arriving are expired by a
// background sweep so a stale value never silently becomes a capture.
//
// Usage:
//
//	repo := weighing.NewRepository(catalog, 20, 2*time.Minute)
//	go repo.Serve() // start the background staleness sweep
type Repository struct {
	catalog        *Catalog
	readingsLength int           // ring buffer capacity per weighing
	liveTTL        time.Duration // live readings older than this are expired

	weighings map[string]*Weighing
	readings  map[string]*utils.RingBuffer[Reading]
	lastFeed  map[string]time.Time // last bridge push per weighing id
	seq       int                  // ticket number counter

	cleanTicker *time.Ticker
	mu          sync.RWMutex
}

// NewRepository creates a new weighing repository.
// Parameters:
//   - catalog: configured operation types; every stored weighing references one.
//   - readingsLength: how many recent bridge readings to keep per weighing.
//   - liveTTL: how long a live reading stays usable without a fresh push.
func NewRepository(catalog *Catalog, readingsLength int, liveTTL time.Duration) *Repository {
	return &Repository{
		catalog:        catalog,
		readingsLength: readingsLength,
		liveTTL:        liveTTL,
		weighings:      make(map[string]*Weighing),
		readings:       make(map[string]*utils.RingBuffer[Reading]),
		lastFeed:       make(map[string]time.Time),
	}
}

// Create validates and stores a new draft weighing. The operation type code is
// resolved against the catalog; a fixed direction is auto-filled when the
// weighing does not set one, and enforced when it does.
func (r *Repository) Create(w *Weighing, operationCode string) (*Weighing, error) {
	opType, err := r.catalog.Get(operationCode)
	if err != nil {
		return nil, err
	}

	w.OperationType = opType
	if w.Direction == "" {
		if opType.FixedDirection != "" {
			w.Direction = opType.FixedDirection
		} else {
			w.Direction = DirectionInbound
		}
	}
	if w.Direction != DirectionInbound && w.Direction != DirectionOutbound {
		return nil, fmt.Errorf("unsupported direction %q", w.Direction)
	}
	if opType.RequiresPrice && w.Price <= 0 {
		return nil, fmt.Errorf("operation type %q requires a price", opType.Name)
	}

	// Validate before consuming a ticket number: a rejected create must not
	// leave a gap in the operator-facing sequence.
	if err := w.ValidateDirection(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	w.ID = uuid.NewString()
	w.Name = fmt.Sprintf("PES-%05d", r.seq)
	w.State = StateDraft
	w.UpdatedAt = time.Now()

	r.weighings[w.ID] = w
	return w, nil
}

// Get returns the weighing with the given id.
func (r *Repository) Get(id string) (*Weighing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	return w, nil
}

// UpdateLiveMass records a live reading pushed by the bridge for the given
// weighing. The reading is appended to the weighing's ring buffer and the
// weighing is marked as listening. Called for every push, typically several
// times per second while a truck sits on the scale.
func (r *Repository) UpdateLiveMass(id string, mass float64) (*Weighing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}

	now := time.Now()
	w.LiveMass = mass
	w.Listening = true
	w.UpdatedAt = now

	buffer, found := r.readings[id]
	if !found {
		buffer = utils.NewRingBuffer[Reading](r.readingsLength)
		r.readings[id] = buffer
	}
	buffer.Push(Reading{Mass: mass, At: now})
	r.lastFeed[id] = now

	return w, nil
}

// Readings returns a copy of the recent bridge readings for the weighing,
// oldest first. Returns an empty slice when the bridge never fed it.
func (r *Repository) Readings(id string) []Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buffer, found := r.readings[id]
	if !found {
		return []Reading{}
	}
	return buffer.ToSlice()
}

// Active returns the weighing currently waiting for a capture: the most
// recently created one in draft or in-transit. The bridge polls this to know
// where its readings should go.
func (r *Repository) Active() (*Weighing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active *Weighing
	for _, w := range r.weighings {
		if !w.Active() {
			continue
		}
		if active == nil || w.Name > active.Name {
			active = w
		}
	}
	return active, active != nil
}

// LatestLiveMass returns the live reading of the most recently updated active
// weighing with a positive value. This is the shared-scale fallback: a draft
// created while the truck already sits on the scale has no reading of its own
// yet, so the capture borrows the one the bridge delivered to its predecessor.
//
// Best-effort heuristic, not a locked resource: the design assumes a single
// active scale session, and two concurrent sessions on one physical scale may
// observe each other's readings.
func (r *Repository) LatestLiveMass() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestLiveMassLocked()
}

func (r *Repository) latestLiveMassLocked() (float64, bool) {
	var (
		latest   time.Time
		mass     float64
		resolved bool
	)
	for _, w := range r.weighings {
		if !w.Active() || w.LiveMass <= 0 {
			continue
		}
		if !resolved || w.UpdatedAt.After(latest) {
			latest = w.UpdatedAt
			mass = w.LiveMass
			resolved = true
		}
	}
	return mass, resolved
}

// resolveMassLocked picks the mass for a capture: the weighing's own live
// reading when positive, otherwise the shared-scale fallback. When the
// fallback is used its value is written back to the weighing, mirroring what
// the operator sees on screen.
func (r *Repository) resolveMassLocked(w *Weighing) float64 {
	if w.LiveMass > 0 {
		return w.LiveMass
	}
	if mass, found := r.latestLiveMassLocked(); found {
		w.LiveMass = mass
		return mass
	}
	return 0
}

// RecordFirstMass resolves a live mass and applies the first capture.
func (r *Repository) RecordFirstMass(id string) (*Weighing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	if err := w.RecordFirstMass(r.resolveMassLocked(w), time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

// RecordSecondMass resolves a live mass and applies the second capture.
func (r *Repository) RecordSecondMass(id string) (*Weighing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	if err := w.RecordSecondMass(r.resolveMassLocked(w), time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Cancel cancels the weighing with the given id.
func (r *Repository) Cancel(id string) (*Weighing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	if err := w.Cancel(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

// SetDirection changes the weighing's direction and re-validates it against
// the operation type's fixed direction. Only draft weighings may change
// direction: after the first capture the direction decided which field was
// filled.
func (r *Repository) SetDirection(id string, direction Direction) (*Weighing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	if w.State != StateDraft {
		return nil, NewInvalidStateError(w.Name, w.State, "direction change")
	}

	previous := w.Direction
	w.Direction = direction
	if err := w.ValidateDirection(); err != nil {
		w.Direction = previous
		return nil, err
	}
	w.UpdatedAt = time.Now()
	return w, nil
}

// SetOperationType changes the weighing's operation type. A fixed direction on
// the new type overwrites the weighing's direction, as the scale operator
// expects when switching a ticket from service to purchase.
func (r *Repository) SetOperationType(id string, code string) (*Weighing, error) {
	opType, err := r.catalog.Get(code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	if w.State != StateDraft {
		return nil, NewInvalidStateError(w.Name, w.State, "operation type change")
	}

	w.OperationType = opType
	if opType.FixedDirection != "" {
		w.Direction = opType.FixedDirection
	}
	if err := w.ValidateDirection(); err != nil {
		return nil, err
	}
	w.UpdatedAt = time.Now()
	return w, nil
}

// AssignOrder links the weighing to a service order after validating that the
// weighing's partner matches the order's client.
func (r *Repository) AssignOrder(id string, order *ServiceOrder) (*Weighing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, found := r.weighings[id]
	if !found {
		return nil, NewNotFoundError("weighing", id)
	}
	if w.Partner != "" && order.Client != "" && w.Partner != order.Client {
		return nil, NewClientMismatchError(w.Name, w.Partner, order.Name, order.Client)
	}

	w.ServiceOrderID = order.ID
	w.UpdatedAt = time.Now()
	return w, nil
}

// Serve runs the background staleness sweep: once per sweep interval, active
// weighings whose bridge feed went quiet for longer than the TTL lose their
// live reading and listening flag. Blocks; run in a goroutine:
//
//	go repo.Serve()
//
// Stop with the Stop method.
func (r *Repository) Serve() {
	r.cleanTicker = time.NewTicker(10 * time.Second)
	for range r.cleanTicker.C {
		var stale []string

		r.mu.RLock()
		now := time.Now()
		for id, ts := range r.lastFeed {
			if now.Sub(ts) > r.liveTTL {
				stale = append(stale, id)
			}
		}
		r.mu.RUnlock()

		if len(stale) > 0 {
			r.mu.Lock()
			for _, id := range stale {
				if w, found := r.weighings[id]; found {
					w.LiveMass = 0
					w.Listening = false
				}
				delete(r.lastFeed, id)
			}
			r.mu.Unlock()
		}
	}
}

// Stop cancels the background sweep ticker. Safe to call even if Serve was
// never started.
func (r *Repository) Stop() {
	if r.cleanTicker != nil {
		r.cleanTicker.Stop()
	}
}
