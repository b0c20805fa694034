package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"amora_backend/internal/domain"
)

// GateRepo stores consent-gate state in SQLite. Every operation the gate
// needs atomically is expressed as a single SQL statement: the increment uses
// RETURNING, the crossing and unlock markers use INSERT OR IGNORE against a
// primary key, and the decline path is a conditional UPDATE. SQLite serializes
// writers, so none of these can interleave.
type GateRepo struct {
	db *sql.DB
}

func NewGateRepo(db *sql.DB) *GateRepo {
	return &GateRepo{db: db}
}

var _ domain.GateRepository = (*GateRepo)(nil)

func (r *GateRepo) IncrementMessageCount(ctx context.Context, conversationID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING message_count
	`, conversationID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	return count, nil
}

func (r *GateRepo) MessageCount(ctx context.Context, conversationID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT message_count FROM conversations WHERE id = ?
	`, conversationID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get message count: %w", err)
	}
	return count, nil
}

func (r *GateRepo) MarkThresholdCrossed(ctx context.Context, conversationID int64, level int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO gate_crossings (conversation_id, level)
		VALUES (?, ?)
	`, conversationID, level)
	if err != nil {
		return false, fmt.Errorf("mark threshold crossed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *GateRepo) IsThresholdCrossed(ctx context.Context, conversationID int64, level int) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM gate_crossings WHERE conversation_id = ? AND level = ?
	`, conversationID, level).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is threshold crossed: %w", err)
	}
	return true, nil
}

func (r *GateRepo) EnsureConsentRecord(ctx context.Context, conversationID, userID int64, level int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO gate_consent_records (conversation_id, user_id, level)
		VALUES (?, ?, ?)
	`, conversationID, userID, level)
	if err != nil {
		return fmt.Errorf("ensure consent record: %w", err)
	}
	return nil
}

func (r *GateRepo) GetConsentRecord(ctx context.Context, conversationID, userID int64, level int) (*domain.LevelConsentRecord, error) {
	rec := &domain.LevelConsentRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, level, profile_complete, consent_state, popup_dismissed, created_at, updated_at
		FROM gate_consent_records
		WHERE conversation_id = ? AND user_id = ? AND level = ?
	`, conversationID, userID, level).Scan(
		&rec.ConversationID,
		&rec.UserID,
		&rec.Level,
		&rec.ProfileComplete,
		&rec.ConsentState,
		&rec.PopupDismissed,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consent record: %w", err)
	}
	return rec, nil
}

func (r *GateRepo) SetProfileComplete(ctx context.Context, conversationID, userID int64, level int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE gate_consent_records
		SET profile_complete = 1, updated_at = CURRENT_TIMESTAMP
		WHERE conversation_id = ? AND user_id = ? AND level = ? AND profile_complete = 0
	`, conversationID, userID, level)
	if err != nil {
		return fmt.Errorf("set profile complete: %w", err)
	}
	return nil
}

func (r *GateRepo) SetConsent(ctx context.Context, conversationID, userID int64, level int, granted bool) error {
	var err error
	if granted {
		_, err = r.db.ExecContext(ctx, `
			UPDATE gate_consent_records
			SET consent_state = ?, popup_dismissed = 1, updated_at = CURRENT_TIMESTAMP
			WHERE conversation_id = ? AND user_id = ? AND level = ?
		`, domain.ConsentGranted, conversationID, userID, level)
	} else {
		// A user cannot un-grant; declining a granted record is a no-op.
		_, err = r.db.ExecContext(ctx, `
			UPDATE gate_consent_records
			SET consent_state = ?, popup_dismissed = 1, updated_at = CURRENT_TIMESTAMP
			WHERE conversation_id = ? AND user_id = ? AND level = ? AND consent_state <> ?
		`, domain.ConsentDeclinedTemporary, conversationID, userID, level, domain.ConsentGranted)
	}
	if err != nil {
		return fmt.Errorf("set consent: %w", err)
	}
	return nil
}

func (r *GateRepo) UnlockLevel(ctx context.Context, conversationID int64, level int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO gate_unlocks (conversation_id, level)
		VALUES (?, ?)
	`, conversationID, level)
	if err != nil {
		return false, fmt.Errorf("unlock level: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *GateRepo) UnlockedLevels(ctx context.Context, conversationID int64) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT level FROM gate_unlocks WHERE conversation_id = ? ORDER BY level ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("unlocked levels: %w", err)
	}
	defer rows.Close()

	var levels []int
	for rows.Next() {
		var l int
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}
