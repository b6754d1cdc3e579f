package pagerank

import "golang.org/x/xerrors"

var (
	// ErrMalformedInput is returned when a transition row, rank entry or
	// shuffled payload cannot be parsed.
	ErrMalformedInput = xerrors.New("malformed input")

	// ErrMissingJoinOperand is returned when a page has links but no rank
	// entry reached its group.
	ErrMissingJoinOperand = xerrors.New("missing join operand")

	// ErrDuplicateJoinOperand is returned when more than one rank entry
	// reached a page's group.
	ErrDuplicateJoinOperand = xerrors.New("duplicate join operand")

	// ErrInvalidConfig is returned for a damping factor outside (0, 1).
	ErrInvalidConfig = xerrors.New("invalid configuration")
)
