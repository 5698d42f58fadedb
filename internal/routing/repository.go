package routing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "beacon/pkg/errors"
)

// Repository persists routing rules and channel preferences.
type Repository interface {
	CreateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]Rule, error)
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error

	UpsertPreference(ctx context.Context, pref *Preference) error
	ListPreferences(ctx context.Context, recipientID string) ([]Preference, error)
	DeletePreference(ctx context.Context, recipientID, channel string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO routing_rules (id, name, expression, channels, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Expression, pq.Array(rule.Channels),
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict.WithDetail("name", rule.Name)
		}
		return fmt.Errorf("failed to insert routing rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	query := `
		SELECT id, name, expression, channels, priority, enabled, created_at, updated_at
		FROM routing_rules WHERE id = $1`

	var rule Rule
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rule.ID, &rule.Name, &rule.Expression, pq.Array(&rule.Channels),
		&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("rule_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get routing rule: %w", err)
	}
	return &rule, nil
}

func (r *PostgresRepository) ListRules(ctx context.Context, enabledOnly bool) ([]Rule, error) {
	query := `
		SELECT id, name, expression, channels, priority, enabled, created_at, updated_at
		FROM routing_rules`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY priority ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Expression, pq.Array(&rule.Channels),
			&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan routing rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE routing_rules
		SET name = $2, expression = $3, channels = $4, priority = $5, enabled = $6, updated_at = $7
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Expression, pq.Array(rule.Channels),
		rule.Priority, rule.Enabled, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict.WithDetail("name", rule.Name)
		}
		return fmt.Errorf("failed to update routing rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound.WithDetail("rule_id", rule.ID)
	}
	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete routing rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound.WithDetail("rule_id", id)
	}
	return nil
}

func (r *PostgresRepository) UpsertPreference(ctx context.Context, pref *Preference) error {
	pref.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO channel_preferences (recipient_id, channel, enabled, endpoint, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recipient_id, channel)
		DO UPDATE SET enabled = EXCLUDED.enabled, endpoint = EXCLUDED.endpoint, updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pref.RecipientID, pref.Channel, pref.Enabled, pref.Endpoint, pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert channel preference: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListPreferences(ctx context.Context, recipientID string) ([]Preference, error) {
	query := `
		SELECT recipient_id, channel, enabled, endpoint, updated_at
		FROM channel_preferences WHERE recipient_id = $1`

	rows, err := r.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var pref Preference
		if err := rows.Scan(&pref.RecipientID, &pref.Channel, &pref.Enabled, &pref.Endpoint, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	return prefs, rows.Err()
}

func (r *PostgresRepository) DeletePreference(ctx context.Context, recipientID, channel string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM channel_preferences WHERE recipient_id = $1 AND channel = $2`,
		recipientID, channel,
	)
	if err != nil {
		return fmt.Errorf("failed to delete channel preference: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound.WithDetail("recipient_id", recipientID).WithDetail("channel", channel)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
