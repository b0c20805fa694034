package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"amora_backend/internal/domain"
)

func TestResolve(t *testing.T) {
	rec := func(complete bool, state domain.ConsentState) *domain.LevelConsentRecord {
		return &domain.LevelConsentRecord{
			ConversationID:  1,
			UserID:          2,
			Level:           domain.LevelTwo,
			ProfileComplete: complete,
			ConsentState:    state,
		}
	}

	tests := []struct {
		name         string
		rec          *domain.LevelConsentRecord
		levelReached bool
		wantAction   domain.GateAction
		wantPopup    bool
		wantState    domain.ConsentState
	}{
		{
			name:         "ThresholdNotReached",
			rec:          nil,
			levelReached: false,
			wantAction:   domain.ActionNone,
			wantPopup:    false,
			wantState:    domain.ConsentPending,
		},
		{
			name:         "ThresholdNotReachedWithRecord",
			rec:          rec(true, domain.ConsentDeclinedTemporary),
			levelReached: false,
			wantAction:   domain.ActionNone,
			wantPopup:    false,
			wantState:    domain.ConsentDeclinedTemporary,
		},
		{
			name:         "ReachedProfileIncomplete",
			rec:          rec(false, domain.ConsentPending),
			levelReached: true,
			wantAction:   domain.ActionFillInformation,
			wantPopup:    true,
			wantState:    domain.ConsentPending,
		},
		{
			name:         "ReachedNoRecordYet",
			rec:          nil,
			levelReached: true,
			wantAction:   domain.ActionFillInformation,
			wantPopup:    true,
			wantState:    domain.ConsentPending,
		},
		{
			name:         "ReachedCompletePending",
			rec:          rec(true, domain.ConsentPending),
			levelReached: true,
			wantAction:   domain.ActionAskConsent,
			wantPopup:    true,
			wantState:    domain.ConsentPending,
		},
		{
			name:         "ReachedCompleteDeclined",
			rec:          rec(true, domain.ConsentDeclinedTemporary),
			levelReached: true,
			wantAction:   domain.ActionAskConsent,
			wantPopup:    true,
			wantState:    domain.ConsentDeclinedTemporary,
		},
		{
			name:         "ReachedCompleteGranted",
			rec:          rec(true, domain.ConsentGranted),
			levelReached: true,
			wantAction:   domain.ActionNone,
			wantPopup:    false,
			wantState:    domain.ConsentGranted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resolve(domain.LevelTwo, tt.rec, tt.levelReached)
			assert.Equal(t, tt.wantAction, out.Action)
			assert.Equal(t, tt.wantPopup, out.PopupPending)
			assert.Equal(t, tt.wantState, out.ConsentState)
			assert.Equal(t, domain.LevelTwo, out.Level)
		})
	}
}

func TestResolveIsPure(t *testing.T) {
	rec := &domain.LevelConsentRecord{
		ProfileComplete: true,
		ConsentState:    domain.ConsentDeclinedTemporary,
	}
	before := *rec

	first := Resolve(domain.LevelThree, rec, true)
	second := Resolve(domain.LevelThree, rec, true)

	assert.Equal(t, first, second)
	assert.Equal(t, before, *rec, "resolver must not mutate the record")
}
