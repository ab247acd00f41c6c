package graph

import "golang.org/x/xerrors"

var (
	// ErrInvalidChain is returned by ProcessChainAnnounce when the
	// requested span does not consist entirely of single-output-gate
	// POINTWISE edges.
	ErrInvalidChain = xerrors.New("chain announcement violates topology preconditions")

	// ErrUnknownGroup names the case of a group vertex the graph has never
	// heard of. No operation in this package returns it: reports that name
	// an unknown group vertex create it instead.
	ErrUnknownGroup = xerrors.New("unknown group vertex")

	// ErrInternalInvariant marks a structural contradiction detected
	// during assembly. The offending element is skipped rather than
	// propagated to the caller.
	ErrInternalInvariant = xerrors.New("internal invariant violated")
)
