// Package errs defines the fatal error classes this runtime raises.
//
// All of them are non-resumable: a caller that observes one should tear
// down the runtime rather than try to continue the dispatch loop, the
// same way the teacher's engine discards a worker instance on panic or
// timeout instead of trying to repair its state.
package errs

import "errors"

// ErrProtocolViolation covers an unknown message type, an unknown type
// marker, an unknown cached type ID, an unknown function ID, a fresh type
// ID that fails descriptor parsing, or leftover bytes after a fully
// consumed operation. The dispatch loop raises it for the two reserved
// function IDs but not for a function ID the Registry does not know: that
// case surfaces as whatever error Registry.Call returns.
var ErrProtocolViolation = errors.New("jsrt: protocol violation")

// ErrBorrowStackOverflow is raised when more than 127 borrowed references
// are active simultaneously in a single outbound call.
var ErrBorrowStackOverflow = errors.New("jsrt: borrow stack overflow")

// ErrReservationExhausted is raised by fillNextReserved when called with
// no active reservation scope, or when the active scope is full.
var ErrReservationExhausted = errors.New("jsrt: reservation scope exhausted")

// ErrInvalidResultVariant is raised when a value encoded as Result is
// neither ok-shaped nor err-shaped.
var ErrInvalidResultVariant = errors.New("jsrt: invalid result variant")

// ErrNestingTooDeep is raised when re-entrant dispatch (§5, §9) exceeds
// Config.MaxNestingDepth. Not named in spec.md's error catalog directly;
// it is the "depth counter with a modest limit" §9 calls a safe addition.
var ErrNestingTooDeep = errors.New("jsrt: dispatch nesting too deep")
