package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serviohub/partner-agent/internal/pkg/persistence"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

// LockNotification takes the per-ticket delivery row
// a pending row is relocked so a failed delivery can be retried,
// returns (false, nil) only if the ticket was already delivered
func (db *DB) LockNotification(ctx context.Context, item *persistence.Notification) (bool, error) {
	cmd, err := db.pool.Exec(ctx, `INSERT INTO notifications(ticket_id, company_id, service_type, status, created, updated)
	VALUES($1, $2, $3, $4, $5, $5)
	ON CONFLICT (ticket_id) DO UPDATE SET updated = $5 WHERE notifications.status = $4`,
		item.TicketID, item.CompanyID, item.ServiceType, persistence.NotificationPending, time.Now())
	if err != nil {
		return false, fmt.Errorf("can't insert notification: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

// UnlockNotification finalizes the delivery row with the provided status value
func (db *DB) UnlockNotification(ctx context.Context, ticketID int64, value *int) error {
	_, err := db.pool.Exec(ctx, `UPDATE notifications SET status = $2, updated = $3 WHERE ticket_id = $1`,
		ticketID, *value, time.Now())
	if err != nil {
		return fmt.Errorf("can't update notification: %w", err)
	}
	return nil
}

// LoadNotification loads one delivery row, nil if absent
func (db *DB) LoadNotification(ctx context.Context, ticketID int64) (*persistence.Notification, error) {
	var res persistence.Notification
	err := db.pool.QueryRow(ctx, `SELECT ticket_id, company_id, service_type, status, created, updated
		FROM notifications WHERE ticket_id = $1`, ticketID).
		Scan(&res.TicketID, &res.CompanyID, &res.ServiceType, &res.Status, &res.Created, &res.Updated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load notification: %w", err)
	}
	return &res, nil
}

// LoadNotifications returns newest delivery rows for the company
func (db *DB) LoadNotifications(ctx context.Context, companyID int64, limit int) ([]*persistence.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, `SELECT ticket_id, company_id, service_type, status, created, updated
		FROM notifications WHERE company_id = $1 ORDER BY created DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("can't select notifications: %w", err)
	}
	defer rows.Close()

	res := []*persistence.Notification{}
	for rows.Next() {
		var item persistence.Notification
		if err := rows.Scan(&item.TicketID, &item.CompanyID, &item.ServiceType, &item.Status,
			&item.Created, &item.Updated); err != nil {
			return nil, fmt.Errorf("can't retrieve notifications: %w", err)
		}
		res = append(res, &item)
	}
	return res, nil
}
