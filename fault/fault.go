// Package fault defines the kinds of errors that can stop
// a distributed mean computation.
//
// Every error produced by this module that a caller may
// want to branch on is a *Error carrying a Kind.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// A Kind classifies an Error.
type Kind int

const (
	// Other is an unclassified error.
	Other Kind = iota

	// Invalid indicates a precondition violation, such as
	// a world size of zero or an out-of-range rank.
	Invalid

	// Initialization indicates that the messaging runtime
	// could not be brought up.
	Initialization

	// CollectiveIncomplete indicates that the coordinator
	// stopped before receiving a result from every rank.
	CollectiveIncomplete

	// UndefinedAverage indicates a mean over zero elements.
	UndefinedAverage

	// Protocol indicates a malformed collective message,
	// such as a duplicate or a message from another run.
	Protocol
)

var kindNames = map[Kind]string{
	Other:                "error",
	Invalid:              "invalid configuration",
	Initialization:       "initialization failed",
	CollectiveIncomplete: "collective incomplete",
	UndefinedAverage:     "undefined average",
	Protocol:             "protocol violation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// An Error is a classified error.
type Error struct {
	Kind Kind

	// Op names the operation that failed, e.g.
	// "partition.LocalCount".
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// E creates an Error.
//
// The arguments following op may be an error (the cause)
// and/or a string (a message). When both are given, the
// message is attached to the cause.
func E(kind Kind, op string, args ...interface{}) *Error {
	res := &Error{Kind: kind, Op: op}
	var msg string
	for _, arg := range args {
		switch arg := arg.(type) {
		case error:
			res.Err = arg
		case string:
			msg = arg
		default:
			panic(fmt.Sprintf("fault.E: unexpected argument %T", arg))
		}
	}
	if msg != "" {
		if res.Err != nil {
			res.Err = fmt.Errorf("%s: %w", msg, res.Err)
		} else {
			res.Err = errors.New(msg)
		}
	}
	return res
}

// Errorf is like E, but it formats the message.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error formats the error as "op: kind: cause".
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, e.Kind.String())
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether any Error in err's chain has the
// given kind.
func Is(kind Kind, err error) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
