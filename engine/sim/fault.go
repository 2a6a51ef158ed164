package sim

import (
	"errors"
	"fmt"
	"strings"
)

// Fault is an instructor-injected defect applied during evaluation.
type Fault string

const (
	FaultNone          Fault = "none"
	FaultLooseWire     Fault = "loose-wire"
	FaultWrongResistor Fault = "wrong-resistor"
	FaultShortCircuit  Fault = "short-circuit"
)

// Faults lists the selectable faults.
var Faults = []Fault{FaultNone, FaultLooseWire, FaultWrongResistor, FaultShortCircuit}

var ErrUnknownFault = errors.New("unknown fault")

// ParseFault parses a selector value. The empty string means no fault.
func ParseFault(s string) (Fault, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FaultNone, nil
	}
	for _, f := range Faults {
		if string(f) == s {
			return f, nil
		}
	}
	return FaultNone, fmt.Errorf("sim: parse fault %q: %w", s, ErrUnknownFault)
}

func (f Fault) String() string {
	if f == "" {
		return string(FaultNone)
	}
	return string(f)
}
