package weighing

import (
	"errors"
	"fmt"
	"sort"
)

// OperationType describes a configured category of weighing: purchase, sale,
// drying service and so on. Types with a fixed direction (purchase is always
// inbound, sale always outbound) constrain every weighing that references them.
type OperationType struct {
	// Code — unique short identifier (e.g. "COMPRA", "VENTA", "SEC").
	Code string `mapstructure:"code"`
	// Name — operator-facing name of the operation.
	Name string `mapstructure:"name"`
	// FixedDirection — when non-empty, every weighing of this type must use
	// this direction. Empty means the operator chooses per weighing.
	FixedDirection Direction `mapstructure:"fixed_direction"`
	// IsService — the cargo is not the plant's own product (toll drying or
	// cleaning for a client).
	IsService bool `mapstructure:"is_service"`
	// AffectsInventory — downstream inventory integration flag. Kept on the
	// record because rules and reports read it, acted on by the host system.
	AffectsInventory bool `mapstructure:"affects_inventory"`
	// GeneratesInvoice — downstream invoicing integration flag.
	GeneratesInvoice bool `mapstructure:"generates_invoice"`
	// RequiresPrice — a price is mandatory on weighings of this type.
	RequiresPrice bool `mapstructure:"requires_price"`
	// Sequence — display and iteration order.
	Sequence int `mapstructure:"sequence"`
}

// Catalog is the set of configured operation types, keyed by code.
type Catalog struct {
	types map[string]*OperationType
}

// NewCatalog builds a catalog from the configured operation types.
// Codes must be unique and directions, when fixed, must be valid.
func NewCatalog(types []OperationType) (*Catalog, error) {
	if len(types) == 0 {
		return nil, errors.New("operations: at least one operation type must be configured")
	}

	catalog := Catalog{types: make(map[string]*OperationType, len(types))}
	for i := range types {
		t := types[i]
		if t.Code == "" {
			return nil, errors.New("operations: code must be specified")
		}
		if _, dup := catalog.types[t.Code]; dup {
			return nil, fmt.Errorf("operations: duplicate code %q", t.Code)
		}
		if t.FixedDirection != "" && t.FixedDirection != DirectionInbound && t.FixedDirection != DirectionOutbound {
			return nil, fmt.Errorf("operations: %s: unsupported direction %q", t.Code, t.FixedDirection)
		}
		catalog.types[t.Code] = &t
	}

	return &catalog, nil
}

// Get returns the operation type for the given code.
// Returns UnknownOperationError when the code is not configured.
func (c *Catalog) Get(code string) (*OperationType, error) {
	t, found := c.types[code]
	if !found {
		return nil, NewUnknownOperationError(code)
	}
	return t, nil
}

// Codes returns all configured codes in ascending sequence order.
func (c *Catalog) Codes() []string {
	codes := make([]string, 0, len(c.types))
	for code := range c.types {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := c.types[codes[i]], c.types[codes[j]]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.Code < b.Code
	})
	return codes
}
