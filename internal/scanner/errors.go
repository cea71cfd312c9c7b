package scanner

import "errors"

var (
	// ErrNodeUnreachable marks a node that failed the reachability probe.
	ErrNodeUnreachable = errors.New("node unreachable")
	// ErrMissingParent marks an ancestor walk that hit a block the node
	// could not serve; the walk is retried next tick.
	ErrMissingParent = errors.New("parent block missing")
	// ErrDepthExceeded names an ancestor walk that reaches the configured
	// depth window. The reconciler does not return it: the walk stops at
	// MaxDepth without error and the tip's reconciliation is not aborted.
	ErrDepthExceeded = errors.New("ancestor walk exceeded max depth")
	// ErrUnableToRollback marks a mirror that could not be steered to the
	// target block.
	ErrUnableToRollback = errors.New("unable to roll back mirror")
	// ErrMissingTransactions names a candidate whose branch roots are not
	// fully hydrated yet. The classifier does not return it: it sets the
	// candidate's MissingTransactions flag and retries on a later tick.
	ErrMissingTransactions = errors.New("branch transactions missing")
)
