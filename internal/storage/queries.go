package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"splitledger/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same queries run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const chargeColumns = `id, group_id, payer_id, created_by, amount_cents, currency,
	description, notes, version, occurred_at, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharge(row rowScanner) (core.Charge, error) {
	var (
		c         core.Charge
		cur       string
		deletedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.GroupID, &c.PayerID, &c.CreatedBy, &c.Amount.Cents, &cur,
		&c.Description, &c.Notes, &c.Version, &c.OccurredAt, &c.CreatedAt, &deletedAt)
	if err != nil {
		return core.Charge{}, err
	}
	c.Amount.Currency = core.Currency(cur)
	if deletedAt.Valid {
		c.DeletedAt = deletedAt.Time
	}
	return c, nil
}

func (q *Queries) insertCharge(ctx context.Context, c core.Charge, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO charges
		(group_id, payer_id, created_by, amount_cents, currency, description, notes,
		 version, occurred_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		c.GroupID, c.PayerID, c.CreatedBy, c.Amount.Cents, string(c.Amount.Currency),
		c.Description, c.Notes, c.OccurredAt, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) updateCharge(ctx context.Context, c core.Charge, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE charges
		SET payer_id = ?, amount_cents = ?, currency = ?, description = ?, notes = ?,
		    occurred_at = ?, updated_at = ?, version = version + 1, exported_at = NULL
		WHERE id = ? AND deleted_at IS NULL`,
		c.PayerID, c.Amount.Cents, string(c.Amount.Currency), c.Description, c.Notes,
		c.OccurredAt, now, c.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) softDeleteCharge(ctx context.Context, id core.ChargeID, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE charges
		SET deleted_at = ?, updated_at = ?, version = version + 1, exported_at = NULL
		WHERE id = ? AND deleted_at IS NULL`, at, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) getCharge(ctx context.Context, id core.ChargeID) (core.Charge, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id)
	return scanCharge(row)
}

func (q *Queries) listCharges(ctx context.Context, where string, args ...any) ([]core.Charge, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) deleteItemsAndSplits(ctx context.Context, id core.ChargeID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM charge_splits WHERE charge_id = ?`, id); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM charge_items WHERE charge_id = ?`, id)
	return err
}

func (q *Queries) insertItem(ctx context.Context, id core.ChargeID, it core.Item) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO charge_items (charge_id, item_no, description, amount_cents)
		VALUES (?, ?, ?, ?)`, id, it.No, it.Description, it.Cents)
	return err
}

func (q *Queries) insertSplit(ctx context.Context, id core.ChargeID, s core.SplitRecord) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO charge_splits
		(charge_id, user_id, item_no, amount_cents, policy, audit_value)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, s.UserID, s.ItemNo, s.Cents, string(s.Policy), s.AuditValue)
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func chargeIDArgs(ids []core.ChargeID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (q *Queries) splitsFor(ctx context.Context, ids []core.ChargeID) (map[core.ChargeID][]core.SplitRecord, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT charge_id, user_id, item_no, amount_cents, policy, audit_value
		FROM charge_splits WHERE charge_id IN (`+placeholders(len(ids))+`) ORDER BY charge_id, id`,
		chargeIDArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[core.ChargeID][]core.SplitRecord)
	for rows.Next() {
		var (
			id     core.ChargeID
			s      core.SplitRecord
			policy string
		)
		if err := rows.Scan(&id, &s.UserID, &s.ItemNo, &s.Cents, &policy, &s.AuditValue); err != nil {
			return nil, err
		}
		s.Policy = core.SplitPolicy(policy)
		out[id] = append(out[id], s)
	}
	return out, rows.Err()
}

func (q *Queries) itemsFor(ctx context.Context, ids []core.ChargeID) (map[core.ChargeID][]core.Item, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT charge_id, item_no, description, amount_cents
		FROM charge_items WHERE charge_id IN (`+placeholders(len(ids))+`) ORDER BY charge_id, item_no`,
		chargeIDArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[core.ChargeID][]core.Item)
	for rows.Next() {
		var (
			id core.ChargeID
			it core.Item
		)
		if err := rows.Scan(&id, &it.No, &it.Description, &it.Cents); err != nil {
			return nil, err
		}
		out[id] = append(out[id], it)
	}
	return out, rows.Err()
}

const repaymentColumns = `id, group_id, from_id, to_id, created_by, amount_cents, currency, notes, created_at`

func (q *Queries) insertRepayment(ctx context.Context, r core.Repayment) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO repayments
		(group_id, from_id, to_id, created_by, amount_cents, currency, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.GroupID, r.FromID, r.ToID, r.CreatedBy, r.Amount.Cents, string(r.Amount.Currency),
		r.Notes, r.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) listRepayments(ctx context.Context, where string, args ...any) ([]core.Repayment, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+repaymentColumns+` FROM repayments WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Repayment
	for rows.Next() {
		var (
			r   core.Repayment
			cur string
		)
		if err := rows.Scan(&r.ID, &r.GroupID, &r.FromID, &r.ToID, &r.CreatedBy,
			&r.Amount.Cents, &cur, &r.Notes, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Amount.Currency = core.Currency(cur)
		out = append(out, r)
	}
	return out, rows.Err()
}
