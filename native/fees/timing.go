package fees

import (
	"fmt"
	"strings"
)

// SnapshotTiming selects when a loan's origination rate is fixed.
type SnapshotTiming uint8

const (
	// SnapshotAtStart reads the policy when the loan becomes active, so a
	// rate change between creation and start applies to the loan.
	SnapshotAtStart SnapshotTiming = iota
	// SnapshotAtCreate fixes the rate when the loan record is created.
	SnapshotAtCreate
)

func (t SnapshotTiming) Valid() bool {
	return t == SnapshotAtStart || t == SnapshotAtCreate
}

func (t SnapshotTiming) String() string {
	switch t {
	case SnapshotAtCreate:
		return "create"
	default:
		return "start"
	}
}

// ParseSnapshotTiming accepts "start" or "create" (case-insensitive). An
// empty string selects SnapshotAtStart.
func ParseSnapshotTiming(raw string) (SnapshotTiming, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "start":
		return SnapshotAtStart, nil
	case "create":
		return SnapshotAtCreate, nil
	default:
		return SnapshotAtStart, fmt.Errorf("fees: unknown snapshot timing %q", raw)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t SnapshotTiming) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText lets the timing decode directly from TOML and YAML.
func (t *SnapshotTiming) UnmarshalText(text []byte) error {
	parsed, err := ParseSnapshotTiming(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
