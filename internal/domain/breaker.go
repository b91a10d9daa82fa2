package domain

import "fmt"

// BreakerState is the process-wide emergency switch. The numeric values are
// part of the journal format.
type BreakerState uint8

const (
	BreakerStarted        BreakerState = 0
	BreakerOnlyWithdrawal BreakerState = 1
	BreakerStopped        BreakerState = 2
)

func (s BreakerState) String() string {
	switch s {
	case BreakerStarted:
		return "Started"
	case BreakerOnlyWithdrawal:
		return "OnlyWithdrawal"
	case BreakerStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("BreakerState(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BreakerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BreakerState) UnmarshalText(text []byte) error {
	for _, st := range []BreakerState{BreakerStarted, BreakerOnlyWithdrawal, BreakerStopped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("domain: unknown breaker state %q", text)
}
