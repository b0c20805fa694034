package service

import (
	"amora_backend/internal/domain"
)

// ResolverOutput is the single source of truth for what a client should show
// for one level. Push and pull paths both derive it from the same ledger read,
// so the two can never disagree.
type ResolverOutput struct {
	Level           int                 `json:"level"`
	Action          domain.GateAction   `json:"action"`
	ConsentState    domain.ConsentState `json:"consent_state"`
	PopupPending    bool                `json:"popup_pending"`
	PopupDismissed  bool                `json:"popup_dismissed"`
	ProfileComplete bool                `json:"profile_complete"`
	Unlocked        bool                `json:"unlocked"`
}

// Resolve derives the UI action for one user at one level from the ledger row
// and the threshold-crossing state. Pure; safe to call repeatedly from the
// status-query path. A nil record stands in for a row that was never created
// (threshold not crossed yet, or crossed but the lazy create has not been
// observed), which behaves as pending/incomplete.
//
// Decision table, first match wins:
//
//	!levelReached                    -> no_action
//	!profileComplete                 -> fill_information (popup pending)
//	consentState pending             -> ask_consent (popup pending, modal)
//	consentState declined_temporary  -> ask_consent (popup pending, reminder banner)
//	consentState granted             -> no_action
func Resolve(level int, rec *domain.LevelConsentRecord, levelReached bool) ResolverOutput {
	out := ResolverOutput{
		Level:        level,
		Action:       domain.ActionNone,
		ConsentState: domain.ConsentPending,
	}
	if rec != nil {
		out.ConsentState = rec.ConsentState
		out.ProfileComplete = rec.ProfileComplete
		out.PopupDismissed = rec.PopupDismissed
	}

	if !levelReached {
		return out
	}

	switch {
	case !out.ProfileComplete:
		out.Action = domain.ActionFillInformation
		out.PopupPending = true
	case out.ConsentState == domain.ConsentPending:
		out.Action = domain.ActionAskConsent
		out.PopupPending = true
	case out.ConsentState == domain.ConsentDeclinedTemporary:
		// Client renders this as the persistent reminder banner with a
		// "share now" affordance, distinguished by consent_state.
		out.Action = domain.ActionAskConsent
		out.PopupPending = true
	default: // granted
		out.Action = domain.ActionNone
		out.PopupPending = false
	}
	return out
}
