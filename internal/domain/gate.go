package domain

import "time"

// Disclosure levels gated behind message thresholds and mutual consent.
// Level 1 is the public profile and is never gated.
const (
	LevelTwo   = 2
	LevelThree = 3
)

// GateLevels lists the gated levels in ascending order.
var GateLevels = []int{LevelTwo, LevelThree}

// ConsentState is the per-user, per-level willingness to share.
type ConsentState string

const (
	// ConsentPending means the user has not answered yet.
	ConsentPending ConsentState = "pending"
	// ConsentGranted is terminal; a granted record never reverts.
	ConsentGranted ConsentState = "granted"
	// ConsentDeclinedTemporary can move to granted later via "share now".
	ConsentDeclinedTemporary ConsentState = "declined_temporary"
)

// GateAction is the single UI action a user should see for a level.
type GateAction string

const (
	ActionNone            GateAction = "no_action"
	ActionFillInformation GateAction = "fill_information"
	ActionAskConsent      GateAction = "ask_consent"
)

// LevelConsentRecord is the durable per-(conversation, user, level) ledger row.
// Created lazily when the level's threshold is first crossed.
type LevelConsentRecord struct {
	ConversationID  int64        `db:"conversation_id" json:"conversation_id"`
	UserID          int64        `db:"user_id" json:"user_id"`
	Level           int          `db:"level" json:"level"`
	ProfileComplete bool         `db:"profile_complete" json:"profile_complete"`
	ConsentState    ConsentState `db:"consent_state" json:"consent_state"`
	// PopupDismissed records that the user already acted on the popup for the
	// current crossing, so clients do not re-show the modal verbatim.
	PopupDismissed bool      `db:"popup_dismissed" json:"popup_dismissed"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// CrossingEvent is emitted at most once per (conversation, level), the moment
// the message count first reaches the level's threshold.
type CrossingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	Level          int   `json:"level"`
}
