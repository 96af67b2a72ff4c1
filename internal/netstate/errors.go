package netstate

import "errors"

// Sentinel errors returned by the network-state engine. Callers match with
// errors.Is to map each kind to a transport-level response; anything not
// wrapping one of these is a protocol failure against the kernel and is
// propagated untouched.
var (
	// ErrInterfaceNotFound means a name lookup over the merged view failed.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrInvalidTarget means a mutation target outside the settable subset
	// was rejected before any kernel call.
	ErrInvalidTarget = errors.New("invalid mutation target")

	// ErrConfirmationMismatch means the post-mutation re-query did not show
	// the field the mutation should have produced. The mutation itself was
	// accepted by the kernel; it is not retried.
	ErrConfirmationMismatch = errors.New("mutation could not be confirmed")
)
