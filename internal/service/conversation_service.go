package service

import (
	"context"
	"errors"
	"fmt"

	"amora_backend/internal/domain"
)

type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	users         domain.UserRepository
	gate          domain.GateRepository
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	users domain.UserRepository,
	gate domain.GateRepository,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
		users:         users,
		gate:          gate,
	}
}

// CreateConversation opens (or returns the existing) direct conversation
// between the creator and one other user. Conversations are always 1:1.
func (s *ConversationService) CreateConversation(
	ctx context.Context,
	otherUserID int64,
	creatorID int64,
) (*domain.Conversation, error) {
	if otherUserID == creatorID {
		return nil, errors.New("cannot start a conversation with yourself")
	}

	other, err := s.users.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if other == nil || !other.IsActive {
		return nil, domain.ErrNotFound
	}

	pair := []int64{creatorID, otherUserID}
	existing, err := s.conversations.FindExistingDirect(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("find existing conversation: %w", err)
	}
	if existing != nil {
		return s.withGateCount(ctx, existing)
	}

	conv := &domain.Conversation{}
	if err := s.conversations.Create(ctx, conv, pair); err != nil {
		return nil, err
	}
	return conv, nil
}

// withGateCount replaces the row's message count with the gate store's. The
// gate store is the only writer of the counter, and it is not necessarily the
// same backend the conversation rows live in.
func (s *ConversationService) withGateCount(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	count, err := s.gate.MessageCount(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("get message count: %w", err)
	}
	conv.MessageCount = count
	return conv, nil
}

func (s *ConversationService) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		if _, err := s.withGateCount(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *ConversationService) GetConversation(
	ctx context.Context,
	conversationID int64,
	userID int64,
) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, domain.ErrNotFound
	}
	return s.withGateCount(ctx, conv)
}

func (s *ConversationService) MarkAsRead(
	ctx context.Context,
	conversationID int64,
	userID int64,
) error {
	return s.conversations.MarkAsRead(ctx, conversationID, userID)
}
