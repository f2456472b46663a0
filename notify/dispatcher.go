package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Dispatcher delivers one rendered notification. Implementations own
// transport, retries and provider configuration.
type Dispatcher interface {
	Send(ctx context.Context, topic string, msg Message) error
}

// LogDispatcher is the default dispatcher used until a mail provider is
// wired in: it logs the notification instead of delivering it.
type LogDispatcher struct {
	Logger *zap.Logger
}

func (d *LogDispatcher) Send(_ context.Context, topic string, msg Message) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("topic", topic),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("contract_number", msg.ContractNumber))
	return nil
}

// Drainer moves pending outbox rows to the dispatcher. Lifecycle writes and
// their notifications commit together on the outbox; the drainer is the
// at-least-once bridge out of the database.
type Drainer struct {
	pool       *pgxpool.Pool
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewDrainer(pool *pgxpool.Pool, dispatcher Dispatcher, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{pool: pool, dispatcher: dispatcher, logger: logger}
}

// DrainOnce claims up to limit pending outbox rows and hands each to the
// dispatcher. Claimed rows are locked with SKIP LOCKED so concurrent drainers
// never double-deliver within one pass. Returns the number dispatched.
func (d *Drainer) DrainOnce(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`, limit)
	if err != nil {
		return 0, fmt.Errorf("notify: claim outbox rows: %w", err)
	}

	type claimed struct {
		id      string
		topic   string
		payload []byte
	}
	batch := []claimed{}
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.topic, &c.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: scan outbox row: %w", err)
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("notify: iterate outbox rows: %w", err)
	}

	sent := 0
	for _, c := range batch {
		var msg Message
		if err := json.Unmarshal(c.payload, &msg); err != nil {
			d.logger.Error("undeliverable outbox payload",
				zap.String("outbox_id", c.id), zap.Error(err))
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'failed', attempts = attempts + 1 WHERE id = $1`, c.id); err != nil {
				return sent, fmt.Errorf("notify: mark failed: %w", err)
			}
			continue
		}

		if err := d.dispatcher.Send(ctx, c.topic, msg); err != nil {
			d.logger.Warn("dispatch failed, leaving row pending",
				zap.String("outbox_id", c.id), zap.String("topic", c.topic), zap.Error(err))
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, c.id); err != nil {
				return sent, fmt.Errorf("notify: bump attempts: %w", err)
			}
			continue
		}

		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'sent', attempts = attempts + 1 WHERE id = $1`, c.id); err != nil {
			return sent, fmt.Errorf("notify: mark sent: %w", err)
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return sent, fmt.Errorf("notify: commit drain: %w", err)
	}
	return sent, nil
}
