package workflow

import "errors"

var (
	// ErrOutOfOrderSubmission is returned when a stage is submitted before its
	// prerequisite. Session state is unchanged.
	ErrOutOfOrderSubmission = errors.New("workflow: out of order submission")
	// ErrInvalidRole is returned for roles outside customer, shipper and carrier.
	ErrInvalidRole = errors.New("workflow: invalid role")
	// ErrSessionNotFound is returned by the registry for unknown session ids.
	ErrSessionNotFound = errors.New("workflow: session not found")
	// ErrAgreementCommitted is returned when a session already holds an agreement.
	ErrAgreementCommitted = errors.New("workflow: agreement already committed")
	// ErrSessionClosed is returned for actions on a rejected session.
	ErrSessionClosed = errors.New("workflow: session closed")
	// ErrNotParticipant is returned when a role of the session is already held
	// by a different principal.
	ErrNotParticipant = errors.New("workflow: not a participant of this session")
)
