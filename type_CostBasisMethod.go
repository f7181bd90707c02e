package taxlot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CostBasisMethod defines which lots a sale consumes first.
type CostBasisMethod int

const (
	// FIFO (First-In, First-Out) sells the oldest lots first.
	FIFO CostBasisMethod = iota
	// LIFO (Last-In, First-Out) sells the newest lots first.
	LIFO
	// HIFO (Highest-In, First-Out) sells the lots with the highest per-share basis first.
	// Lots with the same basis are sold oldest first.
	HIFO
	// SpecificLots sells the lots named by the caller, in the caller's order.
	SpecificLots
)

// ComparedMethods are the methods a sale preview compares, in tie-break order.
var ComparedMethods = []CostBasisMethod{FIFO, LIFO, HIFO}

func (m CostBasisMethod) String() string {
	switch m {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	case HIFO:
		return "hifo"
	case SpecificLots:
		return "specific"
	default:
		return "unknown"
	}
}

// ParseCostBasisMethod parses a string into a CostBasisMethod.
func ParseCostBasisMethod(s string) (CostBasisMethod, error) {
	switch strings.ToLower(s) {
	case "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	case "hifo":
		return HIFO, nil
	case "specific", "specific_lots", "specific-lots":
		return SpecificLots, nil
	default:
		return 0, fmt.Errorf("unknown cost basis method: %q", s)
	}
}

func (m CostBasisMethod) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *CostBasisMethod) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCostBasisMethod(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
