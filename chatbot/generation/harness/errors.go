package harness

import "errors"

var (
	// ErrNoActiveSession is returned when a request carries no session identifier.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNoQuestion is returned when a request carries no question.
	ErrNoQuestion = errors.New("no question provided")
	// ErrUnknownSession is returned for identifiers this server never issued, when issuance is enforced.
	ErrUnknownSession = errors.New("unknown session")
	// ErrShuttingDown is returned for new turns once shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)
