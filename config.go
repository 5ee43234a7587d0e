package ice

import "time"

// KeepAliveStrategy selects which pairs of a component receive
// periodic STUN Binding indications (spec.md §4.10).
type KeepAliveStrategy byte

// Keep-alive strategies.
const (
	// SelectedOnly keeps alive only the component's selected pair.
	SelectedOnly KeepAliveStrategy = iota
	// SelectedAndTcp degenerates to SelectedOnly in this UDP-only
	// module (spec.md §4.10).
	SelectedAndTcp
	// AllSucceeded keeps alive every pair that ever reached Succeeded.
	AllSucceeded
)

func (k KeepAliveStrategy) String() string {
	switch k {
	case SelectedOnly:
		return "SelectedOnly"
	case SelectedAndTcp:
		return "SelectedAndTcp"
	case AllSucceeded:
		return "AllSucceeded"
	default:
		return "Unknown"
	}
}

// NominationStrategy names one of the policies in nominator.go
// (spec.md §4.8).
type NominationStrategy byte

// Nomination strategies.
const (
	NominateFirstValid NominationStrategy = iota
	NominateHighestPriority
	NominateFirstHostOrReflexiveValid
	NominateBestRTT
	NominateNone
)

func (n NominationStrategy) String() string {
	switch n {
	case NominateFirstValid:
		return "NominateFirstValid"
	case NominateHighestPriority:
		return "NominateHighestPriority"
	case NominateFirstHostOrReflexiveValid:
		return "NominateFirstHostOrReflexiveValid"
	case NominateBestRTT:
		return "NominateBestRTT"
	case NominateNone:
		return "NominateNone"
	default:
		return "Unknown"
	}
}

// Options is the agent's enumerated configuration (spec.md §6.3). The
// zero value is not directly usable; construct via DefaultOptions and
// override individual fields.
type Options struct {
	// MaxCheckListSize is the global pair cap, divided per stream.
	MaxCheckListSize int

	// TerminationDelay is the Completed -> Terminated grace period.
	TerminationDelay time.Duration

	// UseDynamicHostHarvester selects the built-in host harvester.
	UseDynamicHostHarvester bool

	KeepAliveStrategy  KeepAliveStrategy
	NominationStrategy NominationStrategy

	// KeepAliveInterval is the pace at which Binding indications are
	// sent to the pairs KeepAliveStrategy selects, starting once the
	// agent reaches Completed (spec.md §4.10). Zero disables keep-alives.
	KeepAliveInterval time.Duration

	// UseComponentSocket exposes a demuxing socket over all of a
	// component's pairs.
	UseComponentSocket bool

	// Software is the STUN SOFTWARE attribute value this agent
	// advertises.
	Software string

	// Ta is the pacing base interval; the PaceMaker period is Ta
	// multiplied by the number of active check lists (min 1).
	Ta time.Duration

	// RelayedNominationDebounce is the timer armed by
	// NominateFirstHostOrReflexiveValid when only a Relayed pair has
	// validated so far (spec.md §4.8).
	RelayedNominationDebounce time.Duration

	// ListGracePeriod is the per-check-list grace timer of spec.md
	// §4.7.
	ListGracePeriod time.Duration

	// Transaction carries the STUN retransmission schedule handed to
	// internal/transaction.Client.
	Transaction TransactionConfig
}

// TransactionConfig mirrors internal/transaction.Config's shape so
// agent construction can configure it without importing the internal
// package from the public API surface.
type TransactionConfig struct {
	InitialRTO     time.Duration
	MaxRTO         time.Duration
	MaxRetransmits int
}

// DefaultOptions returns the spec.md §6.3 defaults.
func DefaultOptions() Options {
	return Options{
		MaxCheckListSize:          DefaultMaxPairs,
		TerminationDelay:          3000 * time.Millisecond,
		UseDynamicHostHarvester:   true,
		KeepAliveStrategy:         SelectedOnly,
		KeepAliveInterval:         15 * time.Second,
		NominationStrategy:        NominateFirstValid,
		UseComponentSocket:        true,
		Software:                  "ice4j.org",
		Ta:                        20 * time.Millisecond,
		RelayedNominationDebounce: 800 * time.Millisecond,
		ListGracePeriod:           5 * time.Second,
		Transaction: TransactionConfig{
			InitialRTO:     250 * time.Millisecond,
			MaxRTO:         1600 * time.Millisecond,
			MaxRetransmits: 7,
		},
	}
}
