package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"negotiatex/negotiation"
	"negotiatex/notify"
	"negotiatex/pkg/logger"
)

// Notifier hands notifications off without blocking. *notify.Dispatcher
// satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) notify.Ack
}

type discardNotifier struct{}

func (discardNotifier) Dispatch(_ context.Context, n notify.Notification) notify.Ack {
	return notify.Ack{Role: n.Role, Message: n.Message}
}

// ApprovalResult describes the session after an approval.
type ApprovalResult struct {
	Status    ApprovalStatus `json:"status"`
	Role      Role           `json:"role"`
	State     State          `json:"state"`
	Approvals map[Role]bool  `json:"approvals"`
	// Recorded is false when the role had already approved.
	Recorded bool         `json:"-"`
	Acks     []notify.Ack `json:"notifications,omitempty"`
}

// RejectResult describes the session after a rejection.
type RejectResult struct {
	State    State        `json:"state"`
	Role     Role         `json:"rejected_by"`
	Recorded bool         `json:"-"`
	Acks     []notify.Ack `json:"notifications,omitempty"`
}

// Controller owns one NegotiationSession. All methods are safe for concurrent
// use; submissions to the same session are serialized.
type Controller struct {
	mu       sync.Mutex
	s        session
	notifier Notifier
	now      func() time.Time
}

func NewController(id, owner string, notifier Notifier) *Controller {
	return newController(id, owner, notifier, time.Now)
}

func newController(id, owner string, notifier Notifier, now func() time.Time) *Controller {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Controller{
		s:        newSession(id, owner, now()),
		notifier: notifier,
		now:      now,
	}
}

func (c *Controller) ID() string { return c.s.id }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.snapshot()
}

// SubmitCustomerIntent records the customer's intent and alerts the shipper.
// It does not advance state and may be repeated until requirements arrive.
func (c *Controller) SubmitCustomerIntent(ctx context.Context, intent map[string]any) (notify.Ack, error) {
	c.mu.Lock()
	if c.s.state != StatePendingShipper {
		state := c.s.state
		c.mu.Unlock()
		return notify.Ack{}, fmt.Errorf("%w: customer intent not accepted in %s", ErrOutOfOrderSubmission, state)
	}
	c.s.customerIntent = payload(intent)
	c.s.updatedAt = c.now()
	c.mu.Unlock()

	logger.Info(ctx, "customer intent recorded", "session_id", c.s.id)
	return c.notify(ctx, RoleShipper, "New business intent submitted. Action required."), nil
}

// SubmitShipperRequirements requires a customer intent and advances to
// PENDING_CARRIER.
func (c *Controller) SubmitShipperRequirements(ctx context.Context, data map[string]any) (notify.Ack, error) {
	c.mu.Lock()
	switch {
	case c.s.state != StatePendingShipper && c.s.state != StatePendingCarrier:
		state := c.s.state
		c.mu.Unlock()
		return notify.Ack{}, fmt.Errorf("%w: shipper requirements not accepted in %s", ErrOutOfOrderSubmission, state)
	case c.s.customerIntent == nil:
		c.mu.Unlock()
		return notify.Ack{}, fmt.Errorf("%w: customer intent not submitted", ErrOutOfOrderSubmission)
	}
	c.s.shipperRequirements = payload(data)
	from := c.advance(StatePendingCarrier)
	c.mu.Unlock()

	c.logTransition(ctx, from, StatePendingCarrier)
	return c.notify(ctx, RoleCarrier, "Shipper requirements added. Please assess feasibility."), nil
}

// SubmitCarrierFeasibility requires shipper requirements and advances to
// AI_NEGOTIATING.
func (c *Controller) SubmitCarrierFeasibility(ctx context.Context, data map[string]any) (notify.Ack, error) {
	c.mu.Lock()
	switch {
	case c.s.shipperRequirements == nil:
		c.mu.Unlock()
		return notify.Ack{}, fmt.Errorf("%w: shipper requirements not submitted", ErrOutOfOrderSubmission)
	case c.s.state != StatePendingCarrier:
		state := c.s.state
		c.mu.Unlock()
		return notify.Ack{}, fmt.Errorf("%w: carrier feasibility not accepted in %s", ErrOutOfOrderSubmission, state)
	}
	c.s.carrierFeasibility = payload(data)
	from := c.advance(StateAINegotiating)
	c.mu.Unlock()

	c.logTransition(ctx, from, StateAINegotiating)
	return c.notifyRole(ctx, notify.RoleSystem, "All inputs received. AI negotiation engine starting."), nil
}

// FinalizeNegotiation stores the agreement once and asks every party to review it.
func (c *Controller) FinalizeNegotiation(ctx context.Context, ag negotiation.Agreement) ([]notify.Ack, error) {
	c.mu.Lock()
	switch {
	case c.s.agreement != nil:
		c.mu.Unlock()
		return nil, ErrAgreementCommitted
	case c.s.state != StateAINegotiating:
		state := c.s.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot finalize in %s", ErrOutOfOrderSubmission, state)
	}
	stored := cloneAgreement(ag)
	c.s.agreement = &stored
	from := c.advance(StateAwaitingApprovals)
	c.mu.Unlock()

	c.logTransition(ctx, from, StateAwaitingApprovals)
	return []notify.Ack{
		c.notify(ctx, RoleCustomer, "AI has generated a contract based on your intent."),
		c.notify(ctx, RoleShipper, "AI negotiation complete. Review delivery and penalty terms."),
		c.notify(ctx, RoleCarrier, "AI negotiation complete. Review operational feasibility."),
	}, nil
}

// ApproveContract records role's approval. The session completes when every
// party has approved; repeated approvals have no further effect.
func (c *Controller) ApproveContract(ctx context.Context, role string) (ApprovalResult, error) {
	r, err := ParseRole(role)
	if err != nil {
		return ApprovalResult{}, err
	}

	c.mu.Lock()
	switch c.s.state {
	case StateCompleted:
		res := c.approvalResult(r, ApprovalFinalized, false)
		c.mu.Unlock()
		return res, nil
	case StateRejected:
		by := c.s.rejectedBy
		c.mu.Unlock()
		return ApprovalResult{}, fmt.Errorf("%w: rejected by %s", ErrSessionClosed, by)
	case StateAwaitingApprovals:
	default:
		state := c.s.state
		c.mu.Unlock()
		return ApprovalResult{}, fmt.Errorf("%w: approval not accepted in %s", ErrOutOfOrderSubmission, state)
	}

	recorded := !c.s.approvals[r]
	c.s.approvals[r] = true
	c.s.updatedAt = c.now()
	if !c.allApproved() {
		res := c.approvalResult(r, ApprovalPartial, recorded)
		c.mu.Unlock()
		logger.Info(ctx, "approval recorded", "session_id", c.s.id, "role", string(r))
		return res, nil
	}
	from := c.advance(StateCompleted)
	res := c.approvalResult(r, ApprovalFinalized, recorded)
	c.mu.Unlock()

	c.logTransition(ctx, from, StateCompleted)
	res.Acks = c.notifyParties(ctx, "All parties approved. The contract is finalized.")
	return res, nil
}

// RejectContract closes the session from AWAITING_APPROVALS. Rejecting an
// already rejected session is a no-op.
func (c *Controller) RejectContract(ctx context.Context, role, reason string) (RejectResult, error) {
	r, err := ParseRole(role)
	if err != nil {
		return RejectResult{}, err
	}

	c.mu.Lock()
	switch c.s.state {
	case StateRejected:
		res := RejectResult{State: StateRejected, Role: c.s.rejectedBy}
		c.mu.Unlock()
		return res, nil
	case StateAwaitingApprovals:
	default:
		state := c.s.state
		c.mu.Unlock()
		return RejectResult{}, fmt.Errorf("%w: rejection not accepted in %s", ErrOutOfOrderSubmission, state)
	}
	c.s.rejectedBy = r
	c.s.rejectReason = reason
	from := c.advance(StateRejected)
	c.mu.Unlock()

	c.logTransition(ctx, from, StateRejected)
	return RejectResult{
		State:    StateRejected,
		Role:     r,
		Recorded: true,
		Acks:     c.notifyParties(ctx, fmt.Sprintf("The contract was rejected by the %s.", r)),
	}, nil
}

// Bind ties role to principal on first use. Later callers for the same role
// must present the same principal. An empty principal is not checked.
func (c *Controller) Bind(role, principal string) error {
	r, err := ParseRole(role)
	if err != nil {
		return err
	}
	if principal == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bound, ok := c.s.participants[r]; ok && bound != principal {
		return fmt.Errorf("%w: %s is held by another user", ErrNotParticipant, r)
	}
	c.s.participants[r] = principal
	return nil
}

// finishedBefore reports whether the session is terminal and idle since cutoff.
func (c *Controller) finishedBefore(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.state.Terminal() && c.s.updatedAt.Before(cutoff)
}

// GetVisibleData returns what role may currently see.
func (c *Controller) GetVisibleData(role string) (Projection, error) {
	r, err := ParseRole(role)
	if err != nil {
		return Projection{}, err
	}
	return Visible(c.Snapshot(), r), nil
}

// advance moves to next and returns the previous state. Callers hold mu.
func (c *Controller) advance(next State) State {
	from := c.s.state
	c.s.state = next
	c.s.updatedAt = c.now()
	return from
}

func (c *Controller) allApproved() bool {
	for _, r := range Parties {
		if !c.s.approvals[r] {
			return false
		}
	}
	return true
}

func (c *Controller) approvalResult(r Role, status ApprovalStatus, recorded bool) ApprovalResult {
	approvals := make(map[Role]bool, len(c.s.approvals))
	for k, v := range c.s.approvals {
		approvals[k] = v
	}
	return ApprovalResult{
		Status:    status,
		Role:      r,
		State:     c.s.state,
		Approvals: approvals,
		Recorded:  recorded,
	}
}

func (c *Controller) logTransition(ctx context.Context, from, to State) {
	logger.Info(ctx, "session transition", "session_id", c.s.id, "from", string(from), "to", string(to))
}

func (c *Controller) notify(ctx context.Context, r Role, msg string) notify.Ack {
	return c.notifyRole(ctx, string(r), msg)
}

func (c *Controller) notifyRole(ctx context.Context, role, msg string) notify.Ack {
	return c.notifier.Dispatch(ctx, notify.Notification{
		Role:      role,
		SessionID: c.s.id,
		Message:   msg,
		CreatedAt: c.now(),
	})
}

func (c *Controller) notifyParties(ctx context.Context, msg string) []notify.Ack {
	acks := make([]notify.Ack, 0, len(Parties))
	for _, r := range Parties {
		acks = append(acks, c.notify(ctx, r, msg))
	}
	return acks
}

// payload copies a submission so later caller mutations do not leak in.
// A nil submission is stored as empty so the stage still counts as submitted.
func payload(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return cloneMap(m)
}
