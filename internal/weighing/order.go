package weighing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OrderState of a service order.
type OrderState string

const (
	OrderStateOpen   OrderState = "open"
	OrderStateClosed OrderState = "closed"
)

// ServiceOrder aggregates a client's drying or cleaning job: the inbound
// weighing that brought the wet paddy in and the outbound weighing that took
// the dried product out. Weighings are referenced, never owned, by downstream
// analyses; the order is the owning workflow.
type ServiceOrder struct {
	ID     string
	Name   string
	Client string
	// ServiceType — operation type code of the service (e.g. "SEC", "PRELIM").
	ServiceType string
	// EntryWeighingID / ExitWeighingID — the linked weighings by direction.
	EntryWeighingID string
	ExitWeighingID  string
	State           OrderState
	CreatedAt       time.Time
}

// OrderRepository is a thread-safe in-memory store of service orders.
type OrderRepository struct {
	orders map[string]*ServiceOrder
	seq    int
	mu     sync.RWMutex
}

// NewOrderRepository creates an empty service order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*ServiceOrder)}
}

// Create stores a new open service order and assigns its id and ticket number.
func (r *OrderRepository) Create(o *ServiceOrder) *ServiceOrder {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	o.ID = uuid.NewString()
	o.Name = fmt.Sprintf("OS-%05d", r.seq)
	o.State = OrderStateOpen
	o.CreatedAt = time.Now()
	r.orders[o.ID] = o
	return o
}

// Get returns the service order with the given id.
func (r *OrderRepository) Get(id string) (*ServiceOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, found := r.orders[id]
	if !found {
		return nil, NewNotFoundError("service order", id)
	}
	return o, nil
}

// Attach records a linked weighing on the order's entry or exit slot
// according to its direction. The caller validates the client match first
// (Repository.AssignOrder); Attach only does the bookkeeping.
func (r *OrderRepository) Attach(orderID string, weighingID string, direction Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, found := r.orders[orderID]
	if !found {
		return NewNotFoundError("service order", orderID)
	}

	if direction == DirectionInbound {
		o.EntryWeighingID = weighingID
	} else {
		o.ExitWeighingID = weighingID
	}
	return nil
}

// Close marks the order closed. Closing is idempotent.
func (r *OrderRepository) Close(id string) (*ServiceOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, found := r.orders[id]
	if !found {
		return nil, NewNotFoundError("service order", id)
	}
	o.State = OrderStateClosed
	return o, nil
}
