package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amora_backend/internal/domain"
	"amora_backend/internal/service"
	"amora_backend/internal/store/sqlite"
)

// stubGateCounts serves message counts from memory, standing in for a gate
// store that is a different backend than the conversation rows. Only
// MessageCount is expected to be called.
type stubGateCounts struct {
	domain.GateRepository
	counts map[int64]int64
}

func (s *stubGateCounts) MessageCount(ctx context.Context, conversationID int64) (int64, error) {
	return s.counts[conversationID], nil
}

func TestConversationCountComesFromGateStore(t *testing.T) {
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
	gate := &stubGateCounts{counts: map[int64]int64{}}
	svc := service.NewConversationService(convs, sqlite.NewParticipantRepo(db), users, gate)

	conv, err := svc.CreateConversation(ctx, b.ID, a.ID)
	require.NoError(t, err)

	// The gate store has counted messages the conversation row knows nothing
	// about, as when gate state lives in redis.
	gate.counts[conv.ID] = 7

	got, err := svc.GetConversation(ctx, conv.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.MessageCount)

	listed, err := svc.ListForUser(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(7), listed[0].MessageCount)

	// Re-creating the same pair returns the existing conversation with the
	// gate store's count, not the stale row value.
	again, err := svc.CreateConversation(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, int64(7), again.MessageCount)
}
