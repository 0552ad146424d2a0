package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"splitledger/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// maxInArgs keeps IN (...) lists well below SQLite's variable limit.
const maxInArgs = 500

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if _, err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Users

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.CreatedAt = r.now()
	res, err := r.db.ExecContext(ctx, `INSERT INTO users (email, name, default_currency, created_at)
		VALUES (?, ?, ?, ?)`, u.Email, u.Name, string(u.DefaultCurrency), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, fmt.Errorf("user %q: %w", u.Email, ErrConflict)
		}
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	u.ID = core.UserID(id)

	slog.InfoContext(ctx, "User created", "user_id", u.ID)
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id core.UserID) (core.User, error) {
	var (
		u   core.User
		cur string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, email, name, default_currency, created_at
		FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Email, &u.Name, &cur, &u.CreatedAt)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %d: %w", id, notFound(err))
	}
	u.DefaultCurrency = core.Currency(cur)
	return u, nil
}

// Groups and membership

// CreateGroup inserts the group and makes its creator the owner.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	g.CreatedAt = r.now()
	err := r.inTx(ctx, func(q *Queries) error {
		res, err := q.db.ExecContext(ctx, `INSERT INTO ledger_groups (name, created_by, default_currency, created_at)
			VALUES (?, ?, ?, ?)`, g.Name, g.CreatedBy, string(g.DefaultCurrency), g.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("group id: %w", err)
		}
		g.ID = core.GroupID(id)

		_, err = q.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, joined_at)
			VALUES (?, ?, 'owner', ?)`, g.ID, g.CreatedBy, g.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	return g, nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id core.GroupID) (core.Group, error) {
	var (
		g   core.Group
		cur string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_by, default_currency, created_at
		FROM ledger_groups WHERE id = ?`, id).Scan(&g.ID, &g.Name, &g.CreatedBy, &cur, &g.CreatedAt)
	if err != nil {
		return core.Group{}, fmt.Errorf("get group %d: %w", id, notFound(err))
	}
	g.DefaultCurrency = core.Currency(cur)
	return g, nil
}

// AddMember is idempotent: adding an existing member is not an error.
func (r *SQLiteRepository) AddMember(ctx context.Context, groupID core.GroupID, userID core.UserID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES (?, ?, 'member', ?) ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID, r.now())
	if err != nil {
		return fmt.Errorf("add member %d to group %d: %w", userID, groupID, err)
	}
	return nil
}

func (r *SQLiteRepository) IsMember(ctx context.Context, groupID core.GroupID, userID core.UserID) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, groupID core.GroupID) ([]core.UserID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []core.UserID
	for rows.Next() {
		var id core.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CurrencyPrecision returns the number of minor-unit digits for a currency,
// or ErrNotFound for codes that are not seeded.
func (r *SQLiteRepository) CurrencyPrecision(ctx context.Context, cur core.Currency) (int32, error) {
	var p int32
	err := r.db.QueryRowContext(ctx, `SELECT precision FROM currencies WHERE code = ?`, string(cur)).Scan(&p)
	if err != nil {
		return 0, fmt.Errorf("currency %s: %w", cur, notFound(err))
	}
	return p, nil
}

func (r *SQLiteRepository) CurrencyExists(ctx context.Context, cur core.Currency) (bool, error) {
	_, err := r.CurrencyPrecision(ctx, cur)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Charges

// CreateCharge inserts the charge with its items and splits in one transaction.
func (r *SQLiteRepository) CreateCharge(ctx context.Context, c core.Charge) (core.Charge, error) {
	now := r.now()
	if c.OccurredAt.IsZero() {
		c.OccurredAt = now
	}

	err := r.inTx(ctx, func(q *Queries) error {
		id, err := q.insertCharge(ctx, c, now)
		if err != nil {
			return fmt.Errorf("insert charge: %w", err)
		}
		c.ID = core.ChargeID(id)
		return writeDetails(ctx, q, c)
	})
	if err != nil {
		return core.Charge{}, err
	}

	c.Version = 1
	c.CreatedAt = now
	slog.InfoContext(ctx, "Charge saved",
		"charge_id", c.ID,
		"group_id", c.GroupID,
		"amount_cents", c.Amount.Cents,
		"currency", c.Amount.Currency,
		"splits", len(c.Splits))
	return c, nil
}

// ReplaceSplits rewrites an active charge's header, items and splits in one
// transaction. Readers never see a mix of old and new splits. The version is
// bumped and the charge is queued for export again.
func (r *SQLiteRepository) ReplaceSplits(ctx context.Context, c core.Charge) (core.Charge, error) {
	now := r.now()
	if c.OccurredAt.IsZero() {
		c.OccurredAt = now
	}

	err := r.inTx(ctx, func(q *Queries) error {
		n, err := q.updateCharge(ctx, c, now)
		if err != nil {
			return fmt.Errorf("update charge: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("charge %d: %w", c.ID, ErrNotFound)
		}
		if err := q.deleteItemsAndSplits(ctx, c.ID); err != nil {
			return fmt.Errorf("clear splits: %w", err)
		}
		return writeDetails(ctx, q, c)
	})
	if err != nil {
		return core.Charge{}, err
	}

	return r.GetCharge(ctx, c.ID)
}

func writeDetails(ctx context.Context, q *Queries, c core.Charge) error {
	for _, it := range c.Items {
		if err := q.insertItem(ctx, c.ID, it); err != nil {
			return fmt.Errorf("insert item %d: %w", it.No, err)
		}
	}
	for _, s := range c.Splits {
		if err := q.insertSplit(ctx, c.ID, s); err != nil {
			return fmt.Errorf("insert split for user %d: %w", s.UserID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) SoftDeleteCharge(ctx context.Context, id core.ChargeID) error {
	n, err := r.queries.softDeleteCharge(ctx, id, r.now())
	if err != nil {
		return fmt.Errorf("delete charge %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("charge %d: %w", id, ErrNotFound)
	}
	slog.InfoContext(ctx, "Charge soft-deleted", "charge_id", id)
	return nil
}

// GetCharge returns a charge with items and splits, deleted or not.
func (r *SQLiteRepository) GetCharge(ctx context.Context, id core.ChargeID) (core.Charge, error) {
	var charges []core.Charge
	err := r.inTx(ctx, func(q *Queries) error {
		c, err := q.getCharge(ctx, id)
		if err != nil {
			return fmt.Errorf("get charge %d: %w", id, notFound(err))
		}
		charges = []core.Charge{c}
		return attachDetails(ctx, q, charges)
	})
	if err != nil {
		return core.Charge{}, err
	}
	return charges[0], nil
}

func (r *SQLiteRepository) ListGroupCharges(ctx context.Context, groupID core.GroupID, includeDeleted bool) ([]core.Charge, error) {
	where := "group_id = ?"
	if !includeDeleted {
		where += " AND deleted_at IS NULL"
	}
	return r.loadCharges(ctx, fmt.Sprintf("group %d", groupID), where, groupID)
}

// ListUserCharges returns the active charges of every group the user belongs to.
func (r *SQLiteRepository) ListUserCharges(ctx context.Context, userID core.UserID) ([]core.Charge, error) {
	return r.loadCharges(ctx, fmt.Sprintf("user %d", userID),
		"deleted_at IS NULL AND group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)", userID)
}

// loadCharges reads headers and details in one transaction so a concurrent
// ReplaceSplits is seen either entirely or not at all.
func (r *SQLiteRepository) loadCharges(ctx context.Context, owner, where string, args ...any) ([]core.Charge, error) {
	var charges []core.Charge
	err := r.inTx(ctx, func(q *Queries) error {
		var err error
		charges, err = q.listCharges(ctx, where, args...)
		if err != nil {
			return fmt.Errorf("list charges for %s: %w", owner, err)
		}
		return attachDetails(ctx, q, charges)
	})
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func attachDetails(ctx context.Context, q *Queries, charges []core.Charge) error {
	for start := 0; start < len(charges); start += maxInArgs {
		end := min(start+maxInArgs, len(charges))
		batch := charges[start:end]

		ids := make([]core.ChargeID, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}

		splits, err := q.splitsFor(ctx, ids)
		if err != nil {
			return fmt.Errorf("load splits: %w", err)
		}
		items, err := q.itemsFor(ctx, ids)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		for i := range batch {
			batch[i].Splits = splits[batch[i].ID]
			batch[i].Items = items[batch[i].ID]
		}
	}
	return nil
}

// Repayments

func (r *SQLiteRepository) CreateRepayment(ctx context.Context, rp core.Repayment) (core.Repayment, error) {
	rp.CreatedAt = r.now()
	id, err := r.queries.insertRepayment(ctx, rp)
	if err != nil {
		return core.Repayment{}, fmt.Errorf("insert repayment: %w", err)
	}
	rp.ID = core.RepaymentID(id)

	slog.InfoContext(ctx, "Repayment saved",
		"repayment_id", rp.ID,
		"group_id", rp.GroupID,
		"amount_cents", rp.Amount.Cents,
		"currency", rp.Amount.Currency)
	return rp, nil
}

func (r *SQLiteRepository) ListGroupRepayments(ctx context.Context, groupID core.GroupID) ([]core.Repayment, error) {
	out, err := r.queries.listRepayments(ctx, "group_id = ?", groupID)
	if err != nil {
		return nil, fmt.Errorf("list repayments for group %d: %w", groupID, err)
	}
	return out, nil
}

// ListUserRepayments returns the repayments of every group the user belongs to.
func (r *SQLiteRepository) ListUserRepayments(ctx context.Context, userID core.UserID) ([]core.Repayment, error) {
	out, err := r.queries.listRepayments(ctx,
		"group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)", userID)
	if err != nil {
		return nil, fmt.Errorf("list repayments for user %d: %w", userID, err)
	}
	return out, nil
}

// Activity

func (r *SQLiteRepository) RecordActivity(ctx context.Context, ev core.ActivityEvent) (core.ActivityEvent, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	if ev.Payload == "" {
		ev.Payload = "{}"
	}
	var groupID sql.NullInt64
	if ev.GroupID != 0 {
		groupID = sql.NullInt64{Int64: int64(ev.GroupID), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO activity_events (group_id, user_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`, groupID, ev.UserID, string(ev.Type), ev.Payload, ev.CreatedAt)
	if err != nil {
		return core.ActivityEvent{}, fmt.Errorf("insert activity: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return core.ActivityEvent{}, fmt.Errorf("activity id: %w", err)
	}
	return ev, nil
}

// ListActivity returns the newest events of a group first.
func (r *SQLiteRepository) ListActivity(ctx context.Context, groupID core.GroupID, limit int) ([]core.ActivityEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, group_id, user_id, type, payload, created_at
		FROM activity_events WHERE group_id = ? ORDER BY id DESC LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []core.ActivityEvent
	for rows.Next() {
		var (
			ev  core.ActivityEvent
			gid sql.NullInt64
			typ string
		)
		if err := rows.Scan(&ev.ID, &gid, &ev.UserID, &typ, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		ev.GroupID = core.GroupID(gid.Int64)
		ev.Type = core.ActivityType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Export bookkeeping

// PendingExport is the minimal data needed to queue a charge for export.
type PendingExport struct {
	ID      core.ChargeID
	GroupID core.GroupID
	Version int64
}

// PendingExports returns charges changed since their last export, oldest first.
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]PendingExport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, group_id, version FROM charges
		WHERE exported_at IS NULL ORDER BY updated_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	defer rows.Close()

	var out []PendingExport
	for rows.Next() {
		var p PendingExport
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Version); err != nil {
			return nil, fmt.Errorf("scan pending export: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkExported records a successful export of the given version. A charge
// edited after the export started keeps its pending state.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id core.ChargeID, version int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE charges SET exported_at = ? WHERE id = ? AND version = ?`,
		r.now(), id, version)
	if err != nil {
		return false, fmt.Errorf("mark charge %d exported: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark charge %d exported: %w", id, err)
	}
	return n > 0, nil
}
