package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"amora_backend/internal/domain"
	"amora_backend/internal/metrics"
)

// EventPusher delivers real-time events to connected clients. Delivery is
// best-effort, at-most-once; disconnected users catch up via Status.
type EventPusher interface {
	BroadcastToUsers(userIDs []int64, payload any)
}

// EventPublisher fans gate events out to downstream consumers (mobile push,
// analytics). A nil publisher disables fan-out.
type EventPublisher interface {
	PublishMessage(key, value []byte) error
}

// GateEvent is the wire shape of pushed and published gate events.
type GateEvent struct {
	EventID        string `json:"event_id"`
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Level          int    `json:"level"`
}

const EventThresholdReached = "level_threshold_reached"

// GateService implements the progressive-disclosure consent gate: the
// threshold counter, the consent ledger operations, the unlock coordinator,
// and dispatch of gate events. All exactly-once guarantees come from the
// store's atomic conditional writes, never from in-process locking.
type GateService struct {
	gate          domain.GateRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	pusher        EventPusher
	publisher     EventPublisher
	metrics       *metrics.Metrics
	logger        *logrus.Logger

	level2Threshold int64
	level3Threshold int64
}

func NewGateService(
	gate domain.GateRepository,
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	pusher EventPusher,
	publisher EventPublisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
	level2Threshold, level3Threshold int64,
) *GateService {
	return &GateService{
		gate:            gate,
		conversations:   conversations,
		participants:    participants,
		pusher:          pusher,
		publisher:       publisher,
		metrics:         m,
		logger:          logger,
		level2Threshold: level2Threshold,
		level3Threshold: level3Threshold,
	}
}

// timeOperation records the duration of a gate operation. Usage:
// defer s.timeOperation("set_consent")().
func (s *GateService) timeOperation(operation string) func() {
	timer := prometheus.NewTimer(s.metrics.GateOperationDuration.WithLabelValues(operation))
	return func() { timer.ObserveDuration() }
}

func (s *GateService) thresholdForLevel(level int) int64 {
	switch level {
	case domain.LevelTwo:
		return s.level2Threshold
	case domain.LevelThree:
		return s.level3Threshold
	default:
		return 0
	}
}

// OnMessageAccepted counts one accepted message and detects, exactly once per
// (conversation, level), the moment the count crosses a level threshold. The
// compare-and-set on the crossing marker is what makes two near-simultaneous
// sends unable to both report a crossing.
func (s *GateService) OnMessageAccepted(ctx context.Context, conversationID int64) ([]domain.CrossingEvent, error) {
	defer s.timeOperation("on_message_accepted")()

	count, err := s.gate.IncrementMessageCount(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("increment message count: %w", err)
	}
	s.metrics.MessagesAccepted.Inc()

	var crossings []domain.CrossingEvent
	for _, level := range domain.GateLevels {
		threshold := s.thresholdForLevel(level)
		if count < threshold {
			continue
		}

		newly, err := s.gate.MarkThresholdCrossed(ctx, conversationID, level)
		if err != nil {
			return crossings, fmt.Errorf("mark threshold crossed: %w", err)
		}
		if !newly {
			continue
		}

		if err := s.onThresholdCrossed(ctx, conversationID, level); err != nil {
			return crossings, err
		}
		crossings = append(crossings, domain.CrossingEvent{ConversationID: conversationID, Level: level})
	}
	return crossings, nil
}

// onThresholdCrossed runs once per crossing: it lazily creates both
// participants' ledger rows and fans out level_threshold_reached.
func (s *GateService) onThresholdCrossed(ctx context.Context, conversationID int64, level int) error {
	userIDs, err := s.participantIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, uid := range userIDs {
		if err := s.gate.EnsureConsentRecord(ctx, conversationID, uid, level); err != nil {
			return fmt.Errorf("ensure consent record for user %d: %w", uid, err)
		}
	}

	s.metrics.ThresholdCrossings.WithLabelValues(strconv.Itoa(level)).Inc()
	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"level":           level,
	}).Info("level threshold crossed")

	s.dispatch(GateEvent{
		EventID:        uuid.New().String(),
		Type:           EventThresholdReached,
		ConversationID: conversationID,
		Level:          level,
	}, userIDs)
	return nil
}

// GateStatusResponse is the pull-path view of the gate for one user.
type GateStatusResponse struct {
	ConversationID int64          `json:"conversation_id"`
	MessageCount   int64          `json:"message_count"`
	Level2         ResolverOutput `json:"level2"`
	Level3         ResolverOutput `json:"level3"`
	UnlockedLevels []int          `json:"unlocked_levels"`
}

// Status derives the caller's gate state for both levels from the ledger.
// Clients that missed a push (reconnect, relaunch, tab refocus) converge to
// the correct state here.
func (s *GateService) Status(ctx context.Context, conversationID, userID int64) (*GateStatusResponse, error) {
	defer s.timeOperation("status")()

	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	s.metrics.GateStatusRequests.Inc()

	count, err := s.gate.MessageCount(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.gate.UnlockedLevels(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	resp := &GateStatusResponse{
		ConversationID: conversationID,
		MessageCount:   count,
		UnlockedLevels: unlocked,
	}

	for _, level := range domain.GateLevels {
		out, err := s.resolveLevel(ctx, conversationID, userID, level)
		if err != nil {
			return nil, err
		}
		for _, ul := range unlocked {
			if ul == level {
				out.Unlocked = true
			}
		}
		switch level {
		case domain.LevelTwo:
			resp.Level2 = out
		case domain.LevelThree:
			resp.Level3 = out
		}
	}
	return resp, nil
}

func (s *GateService) resolveLevel(ctx context.Context, conversationID, userID int64, level int) (ResolverOutput, error) {
	reached, err := s.gate.IsThresholdCrossed(ctx, conversationID, level)
	if err != nil {
		return ResolverOutput{}, err
	}
	rec, err := s.gate.GetConsentRecord(ctx, conversationID, userID, level)
	if err != nil {
		return ResolverOutput{}, err
	}
	return Resolve(level, rec, reached), nil
}

// MarkProfileComplete records that the user finished the level's questionnaire.
// Called by the questionnaire flow; idempotent.
func (s *GateService) MarkProfileComplete(ctx context.Context, conversationID, userID int64, level int) (*GateStatusResponse, error) {
	defer s.timeOperation("mark_profile_complete")()

	if err := s.validateGateMutation(ctx, conversationID, userID, level); err != nil {
		return nil, err
	}
	if err := s.gate.EnsureConsentRecord(ctx, conversationID, userID, level); err != nil {
		return nil, err
	}
	if err := s.gate.SetProfileComplete(ctx, conversationID, userID, level); err != nil {
		return nil, err
	}
	if err := s.Reevaluate(ctx, conversationID, level); err != nil {
		return nil, err
	}
	return s.Status(ctx, conversationID, userID)
}

// SetConsent applies a consent decision and re-evaluates the unlock barrier
// before returning, so the returned status already reflects any unlock.
// Granting is terminal; declining an already-granted record is a no-op, which
// keeps the endpoint safe under client retries.
func (s *GateService) SetConsent(ctx context.Context, conversationID, userID int64, level int, granted bool) (*GateStatusResponse, error) {
	defer s.timeOperation("set_consent")()

	if err := s.validateGateMutation(ctx, conversationID, userID, level); err != nil {
		return nil, err
	}
	if err := s.gate.EnsureConsentRecord(ctx, conversationID, userID, level); err != nil {
		return nil, err
	}
	if err := s.gate.SetConsent(ctx, conversationID, userID, level, granted); err != nil {
		return nil, err
	}

	decision := "declined"
	if granted {
		decision = "granted"
	}
	s.metrics.ConsentDecisions.WithLabelValues(strconv.Itoa(level), decision).Inc()

	if err := s.Reevaluate(ctx, conversationID, level); err != nil {
		return nil, err
	}
	return s.Status(ctx, conversationID, userID)
}

// Reevaluate is the unlock coordinator: when both participants' records are
// granted and the level is not yet unlocked, the compare-and-set on the unlock
// marker flips the conversation level exactly once, no matter how many callers
// race here, and level{N}_unlocked fans out to both sides.
func (s *GateService) Reevaluate(ctx context.Context, conversationID int64, level int) error {
	userIDs, err := s.participantIDs(ctx, conversationID)
	if err != nil {
		return err
	}

	for _, uid := range userIDs {
		rec, err := s.gate.GetConsentRecord(ctx, conversationID, uid, level)
		if err != nil {
			return err
		}
		if rec == nil || rec.ConsentState != domain.ConsentGranted {
			return nil
		}
	}

	newly, err := s.gate.UnlockLevel(ctx, conversationID, level)
	if err != nil {
		return fmt.Errorf("unlock level: %w", err)
	}
	if !newly {
		return nil
	}

	s.metrics.LevelUnlocks.WithLabelValues(strconv.Itoa(level)).Inc()
	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"level":           level,
	}).Info("conversation level unlocked")

	s.dispatch(GateEvent{
		EventID:        uuid.New().String(),
		Type:           fmt.Sprintf("level%d_unlocked", level),
		ConversationID: conversationID,
		Level:          level,
	}, userIDs)
	return nil
}

// dispatch pushes an event to connected participants and, when a publisher is
// configured, to the downstream topic. Both paths are best effort: the ledger
// is the source of truth and the pull path always converges.
func (s *GateService) dispatch(ev GateEvent, userIDs []int64) {
	if s.pusher != nil {
		s.pusher.BroadcastToUsers(userIDs, ev)
		s.metrics.GateEventsPushed.WithLabelValues(ev.Type).Inc()
	}
	if s.publisher != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.WithError(err).Error("marshal gate event")
			return
		}
		key := []byte(strconv.FormatInt(ev.ConversationID, 10))
		if err := s.publisher.PublishMessage(key, payload); err != nil {
			s.logger.WithError(err).WithField("type", ev.Type).Warn("publish gate event")
		}
	}
}

func (s *GateService) participantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	users, err := s.participants.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

func (s *GateService) requireParticipant(ctx context.Context, conversationID, userID int64) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return domain.ErrNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !isParticipant {
		return domain.ErrNotFound
	}
	return nil
}

func (s *GateService) validateGateMutation(ctx context.Context, conversationID, userID int64, level int) error {
	if level != domain.LevelTwo && level != domain.LevelThree {
		return domain.ErrInvalidInput
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	// Ledger rows exist from the crossing onward; acting on a level that was
	// never reached is rejected, not silently recorded.
	reached, err := s.gate.IsThresholdCrossed(ctx, conversationID, level)
	if err != nil {
		return err
	}
	if !reached {
		return domain.ErrInvalidInput
	}
	return nil
}
