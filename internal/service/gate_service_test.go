package service_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amora_backend/internal/domain"
	"amora_backend/internal/metrics"
	"amora_backend/internal/service"
	"amora_backend/internal/store/sqlite"
)

// Shared across tests: promauto registers collectors globally and registering
// the same names twice panics.
var testMetrics = metrics.NewMetrics()

// capturingPusher records every event the gate dispatches.
type capturingPusher struct {
	mu     sync.Mutex
	events []service.GateEvent
	users  [][]int64
}

func (p *capturingPusher) BroadcastToUsers(userIDs []int64, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := payload.(service.GateEvent); ok {
		p.events = append(p.events, ev)
		p.users = append(p.users, userIDs)
	}
}

func (p *capturingPusher) eventsOfType(eventType string) []service.GateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []service.GateEvent
	for _, ev := range p.events {
		if ev.Type == eventType {
			res = append(res, ev)
		}
	}
	return res
}

type gateFixture struct {
	db     *sql.DB
	svc    *service.GateService
	pusher *capturingPusher
	gate   *sqlite.GateRepo
	convs  *sqlite.ConversationRepo
	parts  *sqlite.ParticipantRepo
	logger *logrus.Logger
	convID int64
	userA  int64
	userB  int64
}

func setupGate(t *testing.T, level2, level3 int64) *gateFixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepo(db)
	a := &domain.User{Username: "alice", HashedPassword: "x", DisplayName: "Alice", IsActive: true}
	b := &domain.User{Username: "bob", HashedPassword: "x", DisplayName: "Bob", IsActive: true}
	require.NoError(t, users.Create(ctx, a))
	require.NoError(t, users.Create(ctx, b))

	convs := sqlite.NewConversationRepo(db)
	conv := &domain.Conversation{}
	require.NoError(t, convs.Create(ctx, conv, []int64{a.ID, b.ID}))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	pusher := &capturingPusher{}
	gate := sqlite.NewGateRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	svc := service.NewGateService(
		gate,
		convs,
		parts,
		pusher,
		nil,
		testMetrics,
		logger,
		level2, level3,
	)

	return &gateFixture{
		db:     db,
		svc:    svc,
		pusher: pusher,
		gate:   gate,
		convs:  convs,
		parts:  parts,
		logger: logger,
		convID: conv.ID,
		userA:  a.ID,
		userB:  b.ID,
	}
}

func (f *gateFixture) sendMessages(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.svc.OnMessageAccepted(context.Background(), f.convID)
		require.NoError(t, err)
	}
}

func TestGateScenarioLevel2(t *testing.T) {
	f := setupGate(t, 10, 50)
	ctx := context.Background()

	// 9 messages: below threshold, nothing to do for either user.
	f.sendMessages(t, 9)
	for _, uid := range []int64{f.userA, f.userB} {
		status, err := f.svc.Status(ctx, f.convID, uid)
		require.NoError(t, err)
		assert.Equal(t, int64(9), status.MessageCount)
		assert.Equal(t, domain.ActionNone, status.Level2.Action)
		assert.False(t, status.Level2.PopupPending)
	}
	assert.Empty(t, f.pusher.eventsOfType(service.EventThresholdReached))

	// 10th message crosses the threshold for both users.
	f.sendMessages(t, 1)
	reached := f.pusher.eventsOfType(service.EventThresholdReached)
	require.Len(t, reached, 1)
	assert.Equal(t, f.convID, reached[0].ConversationID)
	assert.Equal(t, domain.LevelTwo, reached[0].Level)

	for _, uid := range []int64{f.userA, f.userB} {
		status, err := f.svc.Status(ctx, f.convID, uid)
		require.NoError(t, err)
		assert.Equal(t, int64(10), status.MessageCount)
		assert.Equal(t, domain.ActionFillInformation, status.Level2.Action)
		assert.True(t, status.Level2.PopupPending)
	}

	// A completes the questionnaire: A moves to ask_consent, B is unchanged.
	status, err := f.svc.MarkProfileComplete(ctx, f.convID, f.userA, domain.LevelTwo)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAskConsent, status.Level2.Action)
	assert.Equal(t, domain.ConsentPending, status.Level2.ConsentState)

	statusB, err := f.svc.Status(ctx, f.convID, f.userB)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFillInformation, statusB.Level2.Action)

	// A grants: no unlock yet, B has not answered.
	status, err = f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelTwo, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentGranted, status.Level2.ConsentState)
	assert.Equal(t, domain.ActionNone, status.Level2.Action)
	assert.Empty(t, status.UnlockedLevels)
	assert.Empty(t, f.pusher.eventsOfType("level2_unlocked"))

	// B completes, then declines: reminder-banner variant.
	_, err = f.svc.MarkProfileComplete(ctx, f.convID, f.userB, domain.LevelTwo)
	require.NoError(t, err)
	status, err = f.svc.SetConsent(ctx, f.convID, f.userB, domain.LevelTwo, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentDeclinedTemporary, status.Level2.ConsentState)
	assert.Equal(t, domain.ActionAskConsent, status.Level2.Action)
	assert.True(t, status.Level2.PopupPending)
	assert.True(t, status.Level2.PopupDismissed)
	assert.Empty(t, f.pusher.eventsOfType("level2_unlocked"))

	// B shares now: both granted, level 2 unlocks exactly once for both sides.
	status, err = f.svc.SetConsent(ctx, f.convID, f.userB, domain.LevelTwo, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentGranted, status.Level2.ConsentState)
	assert.Equal(t, []int{domain.LevelTwo}, status.UnlockedLevels)
	assert.True(t, status.Level2.Unlocked)

	unlocks := f.pusher.eventsOfType("level2_unlocked")
	require.Len(t, unlocks, 1)
	assert.ElementsMatch(t, []int64{f.userA, f.userB}, f.pusher.users[len(f.pusher.events)-1])

	// Level 3 untouched.
	assert.Equal(t, domain.ActionNone, status.Level3.Action)
}

func TestGateScenarioLevel3(t *testing.T) {
	f := setupGate(t, 2, 4)
	ctx := context.Background()

	f.sendMessages(t, 4)

	reached := f.pusher.eventsOfType(service.EventThresholdReached)
	require.Len(t, reached, 2)
	assert.Equal(t, domain.LevelTwo, reached[0].Level)
	assert.Equal(t, domain.LevelThree, reached[1].Level)

	// Both levels now want the questionnaire, independently.
	status, err := f.svc.Status(ctx, f.convID, f.userA)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFillInformation, status.Level2.Action)
	assert.Equal(t, domain.ActionFillInformation, status.Level3.Action)

	// Walk both users through both levels; level 3 consent is separate from
	// level 2 consent.
	for _, uid := range []int64{f.userA, f.userB} {
		for _, level := range []int{domain.LevelTwo, domain.LevelThree} {
			_, err := f.svc.MarkProfileComplete(ctx, f.convID, uid, level)
			require.NoError(t, err)
		}
	}
	_, err = f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelThree, true)
	require.NoError(t, err)
	status, err = f.svc.SetConsent(ctx, f.convID, f.userB, domain.LevelThree, true)
	require.NoError(t, err)

	// Level 3 unlocked on its own; level 2 still waits for its consents.
	assert.Equal(t, []int{domain.LevelThree}, status.UnlockedLevels)
	assert.True(t, status.Level3.Unlocked)
	assert.False(t, status.Level2.Unlocked)
	assert.Len(t, f.pusher.eventsOfType("level3_unlocked"), 1)
	assert.Empty(t, f.pusher.eventsOfType("level2_unlocked"))

	_, err = f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelTwo, true)
	require.NoError(t, err)
	status, err = f.svc.SetConsent(ctx, f.convID, f.userB, domain.LevelTwo, true)
	require.NoError(t, err)
	assert.Equal(t, []int{domain.LevelTwo, domain.LevelThree}, status.UnlockedLevels)
	assert.Len(t, f.pusher.eventsOfType("level2_unlocked"), 1)
}

func TestGateCrossesBothLevelsInOneSend(t *testing.T) {
	f := setupGate(t, 100, 200)
	ctx := context.Background()

	f.sendMessages(t, 3)
	assert.Empty(t, f.pusher.eventsOfType(service.EventThresholdReached))

	// Thresholds lowered below the existing count, as after a config change;
	// the next accepted message detects both crossings at once.
	lowered := service.NewGateService(
		f.gate, f.convs, f.parts, f.pusher, nil, testMetrics, f.logger, 2, 3,
	)
	crossings, err := lowered.OnMessageAccepted(ctx, f.convID)
	require.NoError(t, err)
	require.Len(t, crossings, 2)
	assert.Equal(t, domain.LevelTwo, crossings[0].Level)
	assert.Equal(t, domain.LevelThree, crossings[1].Level)
	assert.Len(t, f.pusher.eventsOfType(service.EventThresholdReached), 2)

	// Both ledgers exist and ask for the questionnaire.
	status, err := lowered.Status(ctx, f.convID, f.userA)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFillInformation, status.Level2.Action)
	assert.Equal(t, domain.ActionFillInformation, status.Level3.Action)
}

func TestGateMutationsAreIdempotent(t *testing.T) {
	f := setupGate(t, 3, 50)
	ctx := context.Background()

	f.sendMessages(t, 3)

	_, err := f.svc.MarkProfileComplete(ctx, f.convID, f.userA, domain.LevelTwo)
	require.NoError(t, err)
	first, err := f.svc.MarkProfileComplete(ctx, f.convID, f.userA, domain.LevelTwo)
	require.NoError(t, err)

	_, err = f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelTwo, true)
	require.NoError(t, err)
	second, err := f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelTwo, true)
	require.NoError(t, err)

	assert.Equal(t, first.Level2.ProfileComplete, second.Level2.ProfileComplete)
	assert.Equal(t, domain.ConsentGranted, second.Level2.ConsentState)

	// Declining after granting can never move the state back.
	third, err := f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelTwo, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentGranted, third.Level2.ConsentState)
}

func TestGateRejectsOutsiders(t *testing.T) {
	f := setupGate(t, 3, 50)
	ctx := context.Background()

	users := sqlite.NewUserRepo(f.db)
	outsider := &domain.User{Username: "mallory", HashedPassword: "x", DisplayName: "Mallory", IsActive: true}
	require.NoError(t, users.Create(ctx, outsider))

	f.sendMessages(t, 3)

	_, err := f.svc.Status(ctx, f.convID, outsider.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.SetConsent(ctx, f.convID, outsider.ID, domain.LevelTwo, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Status(ctx, 9999, f.userA)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGateRejectsUnreachedLevel(t *testing.T) {
	f := setupGate(t, 10, 50)
	ctx := context.Background()

	f.sendMessages(t, 2)

	_, err := f.svc.SetConsent(ctx, f.convID, f.userA, domain.LevelTwo, true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.MarkProfileComplete(ctx, f.convID, f.userA, domain.LevelThree)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.SetConsent(ctx, f.convID, f.userA, 7, true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGateConcurrentMessagesCrossOnce(t *testing.T) {
	f := setupGate(t, 10, 50)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.OnMessageAccepted(ctx, f.convID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := f.convs.GetByID(ctx, f.convID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), conv.MessageCount)

	assert.Len(t, f.pusher.eventsOfType(service.EventThresholdReached), 1)
}

func TestGateConcurrentGrantsUnlockOnce(t *testing.T) {
	f := setupGate(t, 3, 50)
	ctx := context.Background()

	f.sendMessages(t, 3)
	_, err := f.svc.MarkProfileComplete(ctx, f.convID, f.userA, domain.LevelTwo)
	require.NoError(t, err)
	_, err = f.svc.MarkProfileComplete(ctx, f.convID, f.userB, domain.LevelTwo)
	require.NoError(t, err)

	// Both users grant from concurrent requests; duplicate re-evaluations race
	// the coordinator on purpose.
	var wg sync.WaitGroup
	for _, uid := range []int64{f.userA, f.userB} {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(uid int64) {
				defer wg.Done()
				_, err := f.svc.SetConsent(ctx, f.convID, uid, domain.LevelTwo, true)
				assert.NoError(t, err)
			}(uid)
		}
	}
	wg.Wait()

	assert.Len(t, f.pusher.eventsOfType("level2_unlocked"), 1)

	status, err := f.svc.Status(ctx, f.convID, f.userA)
	require.NoError(t, err)
	assert.Equal(t, []int{domain.LevelTwo}, status.UnlockedLevels)
}

func TestGateStatusReflectsMutationImmediately(t *testing.T) {
	f := setupGate(t, 3, 50)
	ctx := context.Background()

	f.sendMessages(t, 3)

	returned, err := f.svc.MarkProfileComplete(ctx, f.convID, f.userA, domain.LevelTwo)
	require.NoError(t, err)
	pulled, err := f.svc.Status(ctx, f.convID, f.userA)
	require.NoError(t, err)
	assert.Equal(t, returned.Level2, pulled.Level2)
	assert.True(t, pulled.Level2.ProfileComplete)
}
