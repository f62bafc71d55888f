// Package schedalg enumerates the four admission/eviction disciplines the
// dispatcher can apply once the server reaches max_accepted_count.
package schedalg

import "fmt"

// Alg is one of BLOCK, DropTail, DropHead, DropRandom.
type Alg int

const (
	// Block makes the accept loop wait on produceCV until a slot frees up.
	Block Alg = iota
	// DropTail closes the arriving connection, leaving the queue untouched.
	DropTail
	// DropHead evicts the oldest waiting connection to admit the new one.
	DropHead
	// DropRandom evicts floor(waiting/2) waiting connections (the single one
	// if only one is waiting), each taken from the head or the tail by an
	// independent coin flip, to admit the new one.
	DropRandom
)

func (a Alg) String() string {
	switch a {
	case Block:
		return "block"
	case DropTail:
		return "dt"
	case DropHead:
		return "dh"
	case DropRandom:
		return "random"
	default:
		return fmt.Sprintf("schedalg(%d)", int(a))
	}
}

// Parse maps a CLI literal to an Alg. The source this core is modeled on
// silently leaves the algorithm uninitialized for an unrecognized literal;
// this implementation rejects it instead, per spec.
func Parse(literal string) (Alg, error) {
	switch literal {
	case "block":
		return Block, nil
	case "dt":
		return DropTail, nil
	case "dh":
		return DropHead, nil
	case "random":
		return DropRandom, nil
	default:
		return 0, fmt.Errorf("schedalg: unrecognized algorithm %q (want one of block, dt, dh, random)", literal)
	}
}
