package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jobmill/jobmill/internal/domain/job"
)

// notifyChannel maps an in-process topic onto its PostgreSQL notification
// channel. Keeping the mapping here means repos and the waiter can never
// disagree on channel names.
func notifyChannel(topic job.Topic) string {
	return "jobmill_" + string(topic)
}

// notifyInTx publishes a notification inside the caller's transaction so
// listeners only wake after the commit lands.
func notifyInTx(ctx context.Context, tx pgx.Tx, topic job.Topic, payload string) error {
	channel := notifyChannel(topic)
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, payload); err != nil {
		return fmt.Errorf("send %s notification: %w", channel, err)
	}
	return nil
}

// NotificationWaiter blocks on PostgreSQL LISTEN channels so schedulers in
// other processes observe job mutations without polling.
type NotificationWaiter struct {
	DB *sql.DB
}

// NewNotificationWaiter creates a waiter bound to the given database handle.
func NewNotificationWaiter(db *sql.DB) *NotificationWaiter {
	return &NotificationWaiter{DB: db}
}

// WaitForNotification blocks until a notification arrives on the topic's
// channel or the context is done. It holds a dedicated connection for the
// duration of the wait.
func (w *NotificationWaiter) WaitForNotification(ctx context.Context, topic job.Topic) error {
	conn, err := w.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := notifyChannel(topic)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

var _ job.Waiter = (*NotificationWaiter)(nil)
