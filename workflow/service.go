package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"negotiatex/agreement"
	"negotiatex/negotiation"
	"negotiatex/notify"
	"negotiatex/pkg/logger"
)

// Negotiator turns a session's submissions into an agreement. It always
// yields one; *negotiation.Engine satisfies it.
type Negotiator interface {
	Mediate(ctx context.Context, req negotiation.Request, agreementID string) (negotiation.Agreement, negotiation.Context)
}

// AgreementCommitter persists an agreement once per session.
type AgreementCommitter interface {
	Commit(ctx context.Context, req agreement.CommitRequest) error
}

// StatusRecorder appends approval and status events for a committed agreement.
type StatusRecorder interface {
	Transition(ctx context.Context, params agreement.TransitionParams) error
}

// Service is the session registry. Sessions are independent; each is
// serialized by its own Controller.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Controller

	engine     Negotiator
	notifier   Notifier
	committer  AgreementCommitter
	statuses   StatusRecorder
	idGenerate func() string
	now        func() time.Time
}

func NewService(engine Negotiator, notifier Notifier) *Service {
	if engine == nil {
		engine = negotiation.NewEngine(nil, nil, 0)
	}
	return &Service{
		sessions:   make(map[string]*Controller),
		engine:     engine,
		notifier:   notifier,
		idGenerate: uuid.NewString,
		now:        time.Now,
	}
}

// WithPersistence records agreements and their status changes. Either may be nil.
func (s *Service) WithPersistence(committer AgreementCommitter, statuses StatusRecorder) {
	s.committer = committer
	s.statuses = statuses
}

// WithClock overrides the clock used for timestamps and agreement ids.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithIDGenerator overrides the session id generator.
func (s *Service) WithIDGenerator(gen func() string) {
	if gen != nil {
		s.idGenerate = gen
	}
}

// Create opens a new session in PENDING_SHIPPER.
func (s *Service) Create(ctx context.Context, owner string) Snapshot {
	id := s.idGenerate()
	c := newController(id, owner, s.notifier, s.now)

	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()

	logger.Info(ctx, "session created", "session_id", id)
	return c.Snapshot()
}

func (s *Service) Get(id string) (*Controller, error) {
	s.mu.RLock()
	c, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c, nil
}

// Authorize binds principal to role within the session, or fails with
// ErrNotParticipant when another principal already holds that role.
func (s *Service) Authorize(id, role, principal string) error {
	c, err := s.Get(id)
	if err != nil {
		return err
	}
	return c.Bind(role, principal)
}

// PruneFinished drops completed and rejected sessions untouched since cutoff
// and returns how many were removed.
func (s *Service) PruneFinished(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.sessions {
		if c.finishedBefore(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RunJanitor prunes finished sessions older than retention every interval
// until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PruneFinished(s.now().Add(-retention)); n > 0 {
				logger.Info(ctx, "finished sessions pruned", "count", n)
			}
		}
	}
}

func (s *Service) Snapshot(id string) (Snapshot, error) {
	c, err := s.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (s *Service) SubmitIntent(ctx context.Context, id string, intent map[string]any) (Snapshot, error) {
	c, err := s.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := c.SubmitCustomerIntent(ctx, intent); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (s *Service) SubmitRequirements(ctx context.Context, id string, data map[string]any) (Snapshot, error) {
	c, err := s.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := c.SubmitShipperRequirements(ctx, data); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// SubmitFeasibility records the carrier's feasibility and runs mediation.
// The session is in AI_NEGOTIATING while the mediator works, so competing
// submissions are rejected rather than queued behind it.
func (s *Service) SubmitFeasibility(ctx context.Context, id string, data map[string]any) (Snapshot, error) {
	c, err := s.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := c.SubmitCarrierFeasibility(ctx, data); err != nil {
		return Snapshot{}, err
	}

	snap := c.Snapshot()
	req := mediationRequest(snap)
	identity := snap.Owner
	if identity == "" {
		identity = snap.ID
	}
	ag, _ := s.engine.Mediate(ctx, req, negotiation.NewAgreementID(identity, s.now()))

	if s.committer != nil {
		err := s.committer.Commit(ctx, agreement.CommitRequest{
			SessionID:  snap.ID,
			ShipmentID: req.ShipmentID,
			CarrierID:  req.CarrierID,
			ActorRole:  notify.RoleSystem,
			Agreement:  ag,
		})
		if err != nil {
			logger.Warn(ctx, "agreement persistence failed", "component", "agreement", "session_id", snap.ID, "error", err)
		}
	}

	if _, err := c.FinalizeNegotiation(ctx, ag); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (s *Service) Approve(ctx context.Context, id, role string) (ApprovalResult, error) {
	c, err := s.Get(id)
	if err != nil {
		return ApprovalResult{}, err
	}
	res, err := c.ApproveContract(ctx, role)
	if err != nil {
		return ApprovalResult{}, err
	}
	if res.Recorded {
		params := agreement.TransitionParams{
			SessionID:  id,
			ActorRole:  string(res.Role),
			NextStatus: agreement.StatusPendingApproval,
			Event:      agreement.EventApprovalRecorded,
		}
		if res.Status == ApprovalFinalized {
			params.NextStatus = agreement.StatusCompleted
			params.Event = ""
		}
		s.recordStatus(ctx, params)
	}
	return res, nil
}

func (s *Service) Reject(ctx context.Context, id, role, reason string) (RejectResult, error) {
	c, err := s.Get(id)
	if err != nil {
		return RejectResult{}, err
	}
	res, err := c.RejectContract(ctx, role, reason)
	if err != nil {
		return RejectResult{}, err
	}
	if res.Recorded {
		s.recordStatus(ctx, agreement.TransitionParams{
			SessionID:  id,
			ActorRole:  string(res.Role),
			NextStatus: agreement.StatusRejected,
			Payload:    map[string]any{"reason": reason},
		})
	}
	return res, nil
}

// Visible returns the caller's projection of a session.
func (s *Service) Visible(id, role string) (Projection, error) {
	c, err := s.Get(id)
	if err != nil {
		return Projection{}, err
	}
	return c.GetVisibleData(role)
}

func (s *Service) recordStatus(ctx context.Context, params agreement.TransitionParams) {
	if s.statuses == nil {
		return
	}
	if err := s.statuses.Transition(ctx, params); err != nil {
		logger.Warn(ctx, "agreement status persistence failed", "component", "agreement", "session_id", params.SessionID, "error", err)
	}
}

// mediationRequest overlays the shipper's requirements on the customer's
// intent and pulls record keys out of the submissions.
func mediationRequest(snap Snapshot) negotiation.Request {
	shipper := make(map[string]any, len(snap.CustomerIntent)+len(snap.ShipperRequirements))
	for k, v := range snap.CustomerIntent {
		shipper[k] = v
	}
	for k, v := range snap.ShipperRequirements {
		shipper[k] = v
	}
	return negotiation.Request{
		ShipperTerms:       shipper,
		CarrierConstraints: snap.CarrierFeasibility,
		ShipmentID:         stringField(shipper, "shipment_id", "shipmentId"),
		CarrierID:          stringField(snap.CarrierFeasibility, "carrier_id", "carrierId"),
		RequesterEmail:     snap.Owner,
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
