package status

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Main is the primary lifecycle status of a payment intent.
type Main string

const (
	Created       Main = "created"
	Claimed       Main = "claimed"
	Paid          Main = "paid"
	Confirmed     Main = "confirmed"
	Settled       Main = "settled"
	Cancelled     Main = "cancelled"
	Expired       Main = "expired"
	Failed        Main = "failed"
	Refunded      Main = "refunded"
	Reversed      Main = "reversed"
	Rejected      Main = "rejected"
	Disputed      Main = "disputed"
	PendingReview Main = "pending_review"
	// Processing is the pre-rename spelling of Claimed. Orders persisted with it
	// must stay advanceable, so transition checks normalise it to Claimed.
	Processing Main = "processing"
)

// Escrow is the custody state of the on-chain funds. It is always derived from
// Main and never stored on its own.
type Escrow string

const (
	EscrowNone      Escrow = "none"
	EscrowLocked    Escrow = "locked"
	EscrowConfirmed Escrow = "confirmed"
	EscrowReleased  Escrow = "released"
	EscrowRefunded  Escrow = "refunded"
)

var allMain = []Main{
	Created, Claimed, Paid, Confirmed, Settled, Cancelled, Expired, Failed,
	Refunded, Reversed, Rejected, Disputed, PendingReview, Processing,
}

var allEscrow = []Escrow{EscrowNone, EscrowLocked, EscrowConfirmed, EscrowReleased, EscrowRefunded}

var mainToEscrow = map[Main]Escrow{
	Created:       EscrowNone,
	Claimed:       EscrowLocked,
	Processing:    EscrowLocked,
	Paid:          EscrowLocked,
	PendingReview: EscrowLocked,
	Confirmed:     EscrowConfirmed,
	Disputed:      EscrowConfirmed,
	Settled:       EscrowReleased,
	Cancelled:     EscrowRefunded,
	Expired:       EscrowRefunded,
	Failed:        EscrowRefunded,
	Refunded:      EscrowRefunded,
	Reversed:      EscrowRefunded,
	Rejected:      EscrowRefunded,
}

var mainTransitions = map[Main][]Main{
	Created:       {Claimed, Cancelled, Expired},
	Claimed:       {Paid, Cancelled, Expired, Disputed},
	Paid:          {Confirmed, Disputed, Cancelled, Refunded, PendingReview, Failed, Rejected},
	PendingReview: {Confirmed, Disputed, Refunded, Rejected},
	Confirmed:     {Settled, Disputed, Failed, Rejected},
	Disputed:      {Settled, Refunded, Reversed, Rejected},
	Failed:        {Refunded},
	Settled:       {},
	Cancelled:     {},
	Expired:       {},
	Refunded:      {},
	Reversed:      {},
	Rejected:      {},
}

var escrowTransitions = map[Escrow][]Escrow{
	EscrowNone:      {EscrowLocked, EscrowRefunded},
	EscrowLocked:    {EscrowConfirmed, EscrowRefunded},
	EscrowConfirmed: {EscrowReleased, EscrowRefunded},
	EscrowReleased:  {},
	EscrowRefunded:  {},
}

// AllMain returns every main status, including the Processing alias.
func AllMain() []Main {
	out := make([]Main, len(allMain))
	copy(out, allMain)
	return out
}

// AllEscrow returns every escrow status.
func AllEscrow() []Escrow {
	out := make([]Escrow, len(allEscrow))
	copy(out, allEscrow)
	return out
}

// Canonical folds legacy aliases into the status used by the transition graph.
func (m Main) Canonical() Main {
	if m == Processing {
		return Claimed
	}
	return m
}

func (m Main) String() string { return string(m) }

// Valid reports whether m is a known main status.
func (m Main) Valid() bool {
	_, ok := mainToEscrow[m]
	return ok
}

// Scan implements sql.Scanner.
func (m *Main) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*m = Main(v)
	case []byte:
		*m = Main(v)
	default:
		return fmt.Errorf("failed to scan status.Main: expected string, got %T", value)
	}
	return nil
}

// Value implements driver.Valuer.
func (m Main) Value() (driver.Value, error) {
	return string(m), nil
}

func (e Escrow) String() string { return string(e) }

// Valid reports whether e is a known escrow status.
func (e Escrow) Valid() bool {
	_, ok := escrowTransitions[e]
	return ok
}

// ParseMain parses untrusted input into a main status.
func ParseMain(s string) (Main, error) {
	m := Main(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return m, nil
}

// ParseEscrow parses untrusted input into an escrow status.
func ParseEscrow(s string) (Escrow, error) {
	e := Escrow(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unknown escrow status %q", s)
	}
	return e, nil
}

// MainToEscrow returns the escrow state expected for a main status. Unknown
// statuses map to EscrowNone.
func MainToEscrow(m Main) Escrow {
	if e, ok := mainToEscrow[m]; ok {
		return e
	}
	return EscrowNone
}

// ValidMainTransitions returns the statuses reachable from current in one step.
func ValidMainTransitions(current Main) []Main {
	next := mainTransitions[current.Canonical()]
	out := make([]Main, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether no further main transition is possible.
func IsTerminal(m Main) bool {
	next, ok := mainTransitions[m.Canonical()]
	return ok && len(next) == 0
}

func isValidMain(current, next Main) bool {
	cur, nxt := current.Canonical(), next.Canonical()
	if cur == nxt {
		return true
	}
	for _, candidate := range mainTransitions[cur] {
		if candidate == nxt {
			return true
		}
	}
	return false
}

// IsValidEscrowTransition checks the escrow custody graph. Same-state is valid.
func IsValidEscrowTransition(current, next Escrow) bool {
	if !current.Valid() || !next.Valid() {
		return false
	}
	if current == next {
		return true
	}
	for _, candidate := range escrowTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsValidTransition validates a move between (main, escrow) pairs. Escrow
// arguments may be empty, in which case they are derived from the main status.
func IsValidTransition(curMain, newMain Main, curEscrow, newEscrow Escrow) bool {
	if !curMain.Valid() || !newMain.Valid() {
		return false
	}
	if curEscrow == "" {
		curEscrow = MainToEscrow(curMain)
	}
	if newEscrow == "" {
		newEscrow = MainToEscrow(newMain)
	}
	if curMain.Canonical() == newMain.Canonical() && curEscrow == newEscrow {
		return true
	}
	if !isValidMain(curMain, newMain) {
		return false
	}
	if !IsValidEscrowTransition(curEscrow, newEscrow) {
		return false
	}
	return MainToEscrow(newMain) == newEscrow
}
