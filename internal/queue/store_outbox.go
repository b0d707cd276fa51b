package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnqueueMessage inserts a queued outbox row eligible for immediate delivery.
// Duplicate submissions intentionally produce distinct rows; dedup is the
// caller's concern.
func (s *Store) EnqueueMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.To == "" {
		return nil, errors.New("message recipient required")
	}
	ctx = ensureContext(ctx)
	now := time.Now()

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`INSERT INTO outbox (job_id, to_addr, subject, body_text, body_html, attachment_path, status, attempts, last_error, send_after, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
			nullableID(msg.JobID),
			msg.To,
			msg.Subject,
			msg.BodyText,
			nullableString(msg.BodyHTML),
			nullableString(msg.AttachmentPath),
			MessageQueued,
			sendAfterStamp(now),
			timestamp(now),
			timestamp(now),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// ClaimNextMessage atomically transitions the oldest due queued message to
// sending and returns its pre-claim contents. Returns (nil, nil) when no
// message is due or the conditional update lost the race.
func (s *Store) ClaimNextMessage(ctx context.Context, now time.Time) (*Message, error) {
	ctx = ensureContext(ctx)
	var claimed *Message
	err := retryOnBusy(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM outbox WHERE status = ? AND send_after <= ? ORDER BY id ASC LIMIT 1`,
			MessageQueued, sendAfterStamp(now))
		candidate, err := scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE outbox SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			MessageSending, timestamp(now), candidate.ID, MessageQueued)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if affected == 1 {
			claimed = candidate
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}
	return claimed, nil
}

// ReleaseMessage returns a claimed message to queued without touching its
// attempt count or send_after. Used when the rate limiter defers a send that
// never started.
func (s *Store) ReleaseMessage(ctx context.Context, id int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE outbox SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		MessageQueued, timestamp(time.Now()), id, MessageSending)
	if err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return nil
}

// MarkMessageSent records a successful delivery.
func (s *Store) MarkMessageSent(ctx context.Context, id int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE outbox SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		MessageSent, timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// RequeueMessageFailure records a failed attempt and schedules the retry.
func (s *Store) RequeueMessageFailure(ctx context.Context, id int64, attempts int, lastError string, sendAfter time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE outbox SET status = ?, attempts = ?, last_error = ?, send_after = ?, updated_at = ? WHERE id = ?`,
		MessageQueued, attempts, nullableString(lastError), sendAfterStamp(sendAfter), timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}
	return nil
}

// MarkMessageError dead-letters a message after its final attempt.
func (s *Store) MarkMessageError(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE outbox SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		MessageError, attempts, nullableString(lastError), timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark message error: %w", err)
	}
	return nil
}

// RequeueStuckSending returns messages stranded in sending to queued. Runs
// once at sender start; a sending row with no live sender is a crash leftover.
func (s *Store) RequeueStuckSending(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE outbox SET status = ?, updated_at = ? WHERE status = ?`,
		MessageQueued, timestamp(time.Now()), MessageSending)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck sending: %w", err)
	}
	return res.RowsAffected()
}

// RetryMessage moves a dead-lettered message back to queued, due immediately.
func (s *Store) RetryMessage(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE outbox SET status = ?, send_after = ?, updated_at = ? WHERE id = ? AND status = ?`,
		MessageQueued, sendAfterStamp(time.Now()), timestamp(time.Now()), id, MessageError)
	if err != nil {
		return false, fmt.Errorf("retry message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetMessage fetches an outbox row by identifier.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM outbox WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns outbox rows filtered by status set (or all when none
// given), ordered by id.
func (s *Store) ListMessages(ctx context.Context, statuses ...MessageStatus) ([]*Message, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + messageColumns + ` FROM outbox`
	orderClause := ` ORDER BY id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// OutboxStats returns a count of outbox rows grouped by status.
func (s *Store) OutboxStats(ctx context.Context) (map[MessageStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[MessageStatus]int)
	for rows.Next() {
		var status MessageStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
