package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var ErrOutcomeRecorded = errors.New("checkout outcome already recorded")

// MySQLCheckoutLog stores one row per checkout attempt, keyed by token.
// The outcome columns are written once and never overwritten.
type MySQLCheckoutLog struct {
	db *sql.DB
}

var _ port.CheckoutRepository = (*MySQLCheckoutLog)(nil)

func NewMySQLCheckoutLog(db *sql.DB) *MySQLCheckoutLog {
	return &MySQLCheckoutLog{db: db}
}

func (m *MySQLCheckoutLog) RecordIntent(ctx context.Context, clientID string, intent domain.TransactionIntent) error {
	items, err := encodeItems(intent.Items)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkout_attempts (token, client_id, items, redirect_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE token = token`,
		intent.Token, clientID, items, intent.RedirectURL, intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkout attempt: %w", err)
	}
	return nil
}

// encodeItems renders items for the JSON column. It is bound as a string:
// a []byte argument becomes a _binary literal under interpolateParams, which
// MySQL refuses to store as JSON.
func encodeItems(items []domain.Item) (string, error) {
	if items == nil {
		items = []domain.Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(raw), nil
}

func (m *MySQLCheckoutLog) RecordOutcome(ctx context.Context, outcome domain.CommitOutcome) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE checkout_attempts
		SET outcome_kind = ?, order_id = ?, amount = ?, response_code = ?,
			authorization_code = ?, transaction_date = ?, completed_at = NOW()
		WHERE token = ? AND outcome_kind IS NULL`,
		outcome.Kind, outcome.Order, outcome.Amount, outcome.ResponseCode,
		outcome.AuthorizationCode, outcome.Timestamp, outcome.Token,
	)
	if err != nil {
		return fmt.Errorf("update checkout attempt: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// The intent may never have been recorded; insert the outcome on its own.
		result, err = tx.ExecContext(ctx, `
			INSERT IGNORE INTO checkout_attempts
				(token, client_id, items, redirect_url, created_at, outcome_kind, order_id,
				 amount, response_code, authorization_code, transaction_date, completed_at)
			VALUES (?, '', '[]', '', NOW(), ?, ?, ?, ?, ?, ?, NOW())`,
			outcome.Token, outcome.Kind, outcome.Order, outcome.Amount, outcome.ResponseCode,
			outcome.AuthorizationCode, outcome.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert checkout outcome: %w", err)
		}
		rows, _ = result.RowsAffected()
		if rows == 0 {
			return ErrOutcomeRecorded
		}
	}

	return tx.Commit()
}

func (m *MySQLCheckoutLog) FindOutcome(ctx context.Context, token string) (*domain.CommitOutcome, error) {
	var (
		kind                                   sql.NullString
		order, respCode, authCode, transaction sql.NullString
		amount                                 decimal.NullDecimal
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT outcome_kind, order_id, amount, response_code, authorization_code, transaction_date
		FROM checkout_attempts WHERE token = ?`, token,
	).Scan(&kind, &order, &amount, &respCode, &authCode, &transaction)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkout attempt: %w", err)
	}
	if !kind.Valid {
		return nil, nil
	}

	return &domain.CommitOutcome{
		Kind:              domain.OutcomeKind(kind.String),
		Token:             token,
		Order:             order.String,
		Amount:            amount.Decimal,
		ResponseCode:      respCode.String,
		AuthorizationCode: authCode.String,
		Timestamp:         transaction.String,
	}, nil
}
