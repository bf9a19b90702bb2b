package internal

import "fmt"

// AntiPrime is one entry of the antiprime sequence.
//
// IMMUTABILITY CONTRACT:
//   - Values are passed by value everywhere (mailbox, worker, sequence, events)
//   - The sequence never mutates an element once appended
//
// Sequence invariant: within one epoch, both Value and Divisors are strictly
// increasing from one element to the next.
type AntiPrime struct {
	// Value is the antiprime itself.
	Value uint64 `json:"value" yaml:"value" msgpack:"value"`

	// Divisors is the number of positive divisors of Value.
	Divisors uint64 `json:"divisors" yaml:"divisors" msgpack:"divisors"`
}

// Initial is the first antiprime. A new or reset sequence contains only this element.
var Initial = AntiPrime{Value: 1, Divisors: 1}

// String formats the pair as "value(divisors)".
func (a AntiPrime) String() string {
	return fmt.Sprintf("%d(%d)", a.Value, a.Divisors)
}

// Extends reports whether next is a valid successor of a (strictly more of both).
func (a AntiPrime) Extends(next AntiPrime) bool {
	return next.Value > a.Value && next.Divisors > a.Divisors
}
