package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canteen-sync/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ChangeChannel is the LISTEN/NOTIFY channel; the payload is the table name.
const ChangeChannel = "order_changes"

const orderColumns = `id, payment_reference, canteen_ref, requester_id, requester_name, requester_email,
	canteen, items, total, note, created_at, status, payment_status, payment_token,
	payment_method, settled_at, last_checked_at, status_source`

type orderRepo struct {
	db *pgxpool.Pool
}

// NewOrderRepo returns a RecordStore backed by Postgres, one table per collection.
func NewOrderRepo(db *pgxpool.Pool) RecordStore {
	return &orderRepo{db: db}
}

func table(collection string) (string, error) {
	if !domain.IsCollection(collection) {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return pgx.Identifier{collection}.Sanitize(), nil
}

func (r *orderRepo) Create(ctx context.Context, collection string, o *domain.Order) (string, error) {
	tbl, err := table(collection)
	if err != nil {
		return "", &domain.CollectionUnavailableError{Collection: collection, Err: err}
	}

	query := `INSERT INTO ` + tbl + ` (payment_reference, canteen_ref, requester_id, requester_name, requester_email,
		canteen, items, total, note, status, payment_status, payment_token, payment_method, status_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	err = r.db.QueryRow(ctx, query,
		o.PaymentReference,
		o.CanteenRef,
		o.Requester.ID,
		o.Requester.Name,
		o.Requester.Email,
		string(o.Canteen),
		o.Items,
		o.Total,
		o.Note,
		string(o.Status),
		string(o.PaymentStatus),
		o.PaymentToken,
		o.PaymentMethod,
		string(o.StatusSource),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("payment_reference", o.PaymentReference).Msg("repository: failed to insert order")
		return "", &domain.CollectionUnavailableError{Collection: collection, Err: err}
	}
	return o.ID, nil
}

func (r *orderRepo) Update(ctx context.Context, collection, id string, patch domain.OrderPatch) error {
	tbl, err := table(collection)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}

	var sets []string
	var args []any
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.PaymentStatus != nil {
		set("payment_status", string(*patch.PaymentStatus))
	}
	if patch.PaymentMethod != nil {
		set("payment_method", *patch.PaymentMethod)
	}
	if patch.SettledAt != nil {
		set("settled_at", *patch.SettledAt)
	}
	if patch.LastCheckedAt != nil {
		set("last_checked_at", *patch.LastCheckedAt)
	}
	if patch.StatusSource != nil {
		set("status_source", string(*patch.StatusSource))
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, tbl, strings.Join(sets, ", "), len(args))
	cmdTag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("repository: failed to update %s/%s: %w", collection, id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepo) Get(ctx context.Context, collection, id string) (*domain.Order, error) {
	tbl, err := table(collection)
	if err != nil {
		return nil, err
	}

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM `+tbl+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select %s/%s: %w", collection, id, err)
	}
	return o, nil
}

func (r *orderRepo) Query(ctx context.Context, collection string, f Filter) ([]domain.Order, error) {
	tbl, err := table(collection)
	if err != nil {
		return nil, err
	}

	where, args := whereClause(f)
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM `+tbl+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan %s: %w", collection, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating %s: %w", collection, err)
	}
	return orders, nil
}

func (r *orderRepo) Subscribe(ctx context.Context, collection string, f Filter, onChange func([]domain.Order)) (func(), error) {
	if _, err := table(collection); err != nil {
		return nil, err
	}

	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("repository: failed to listen on %s: %w", ChangeChannel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	deliver := func() {
		orders, err := r.Query(subCtx, collection, f)
		if err != nil {
			if subCtx.Err() == nil {
				log.Warn().Err(err).Str("collection", collection).Msg("repository: subscription refresh failed")
			}
			return
		}
		onChange(orders)
	}

	go func() {
		defer close(done)
		// the connection is in LISTEN state and may be mid-wait; never reuse it
		defer func() { _ = conn.Hijack().Close(context.Background()) }()

		deliver()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					log.Error().Err(err).Str("collection", collection).Msg("repository: subscription ended")
				}
				return
			}
			if n.Payload == collection {
				deliver()
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (r *orderRepo) BatchDelete(ctx context.Context, refs []DocRef) (err error) {
	if len(refs) == 0 {
		return nil
	}

	byCollection := make(map[string][]string)
	for _, ref := range refs {
		if _, err := table(ref.Collection); err != nil {
			return err
		}
		byCollection[ref.Collection] = append(byCollection[ref.Collection], ref.ID)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin batch delete: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback batch delete")
			}
		}
	}()

	for collection, ids := range byCollection {
		tbl, _ := table(collection)
		if _, err = tx.Exec(ctx, `DELETE FROM `+tbl+` WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("repository: failed to delete from %s: %w", collection, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit batch delete: %w", err)
	}
	return nil
}

func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Canteen != "" {
		add("canteen = $%d", string(f.Canteen))
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if f.PaymentReference != "" {
		add("payment_reference = $%d", f.PaymentReference)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at > $%d", f.CreatedAfter)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.PaymentReference,
		&o.CanteenRef,
		&o.Requester.ID,
		&o.Requester.Name,
		&o.Requester.Email,
		&o.Canteen,
		&o.Items,
		&o.Total,
		&o.Note,
		&o.CreatedAt,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentToken,
		&o.PaymentMethod,
		&o.SettledAt,
		&o.LastCheckedAt,
		&o.StatusSource,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
