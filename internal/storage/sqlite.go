package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pagerapp/pushgate/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			target_user_id TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			alert_payload TEXT,
			liveupdate_payload TEXT,
			status TEXT NOT NULL DEFAULT 'waiting',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			next_attempt_at DATETIME,
			lease_expires DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS recipients (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			device_token TEXT NOT NULL DEFAULT '',
			live_activity_token TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_eligible ON jobs(status, priority, next_attempt_at) WHERE status = 'waiting'`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(lease_expires) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_done ON jobs(status, completed_at) WHERE status IN ('completed', 'failed')`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *SQLiteStorage) EnqueueJob(ctx context.Context, job *models.NotificationJob) error {
	var alertPayload, livePayload interface{}
	if job.AlertPayload != nil {
		b, _ := json.Marshal(job.AlertPayload)
		alertPayload = string(b)
	}
	if job.LiveUpdatePayload != nil {
		b, _ := json.Marshal(job.LiveUpdatePayload)
		livePayload = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, target_user_id, priority, alert_payload, liveupdate_payload, status, attempt_count, last_error, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Kind, job.TargetUserID, job.Priority, alertPayload, livePayload,
		job.Status, job.AttemptCount, job.LastError, job.NextAttemptAt, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

const jobColumns = `id, kind, target_user_id, priority, alert_payload, liveupdate_payload, status, attempt_count, last_error, next_attempt_at, lease_expires, created_at, updated_at, completed_at`

func (s *SQLiteStorage) scanJob(row interface{ Scan(...interface{}) error }) (*models.NotificationJob, error) {
	var job models.NotificationJob
	var alertPayload, livePayload sql.NullString
	var nextAttempt, leaseExpires, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Kind, &job.TargetUserID, &job.Priority, &alertPayload, &livePayload,
		&job.Status, &job.AttemptCount, &job.LastError, &nextAttempt, &leaseExpires, &job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if alertPayload.Valid && alertPayload.String != "" {
		if err := json.Unmarshal([]byte(alertPayload.String), &job.AlertPayload); err != nil {
			return nil, err
		}
	}
	if livePayload.Valid && livePayload.String != "" {
		if err := json.Unmarshal([]byte(livePayload.String), &job.LiveUpdatePayload); err != nil {
			return nil, err
		}
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		job.NextAttemptAt = &t
	}
	if leaseExpires.Valid {
		t := leaseExpires.Time
		job.LeaseExpires = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*models.NotificationJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := s.scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStorage) LeaseJobs(ctx context.Context, limit int, leaseTimeout time.Duration) ([]models.NotificationJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'waiting' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY priority DESC, created_at ASC
		 LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}

	var jobs []models.NotificationJob
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	lease := now.Add(leaseTimeout)
	for i := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'active', lease_expires = ?, updated_at = ? WHERE id = ?`,
			lease, now, jobs[i].ID,
		); err != nil {
			return nil, err
		}
		jobs[i].Status = models.JobActive
		l := lease
		jobs[i].LeaseExpires = &l
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *SQLiteStorage) AckJob(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', lease_expires = NULL, next_attempt_at = NULL, completed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	return err
}

func (s *SQLiteStorage) RetryJob(ctx context.Context, id string, delay time.Duration, lastError string) error {
	now := time.Now().UTC()
	next := now.Add(delay)
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'waiting', attempt_count = attempt_count + 1, last_error = ?, next_attempt_at = ?, lease_expires = NULL, updated_at = ? WHERE id = ?`,
		lastError, next, now, id,
	)
	return err
}

func (s *SQLiteStorage) FailJob(ctx context.Context, id string, lastError string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', attempt_count = attempt_count + 1, last_error = ?, lease_expires = NULL, next_attempt_at = NULL, completed_at = ?, updated_at = ? WHERE id = ?`,
		lastError, now, now, id,
	)
	return err
}

func (s *SQLiteStorage) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'waiting', lease_expires = NULL, updated_at = ? WHERE status = 'active' AND lease_expires IS NOT NULL AND lease_expires <= ?`,
		now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) PruneJobs(ctx context.Context, completedTTL time.Duration, keepMax int, failedTTL time.Duration) (int64, error) {
	now := time.Now().UTC()
	var total int64

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = 'completed' AND completed_at <= ?`,
		now.Add(-completedTTL),
	)
	if err != nil {
		return total, err
	}
	n, _ := res.RowsAffected()
	total += n

	// Cap the completed backlog even inside the retention window.
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = 'completed' AND id NOT IN (
			SELECT id FROM jobs WHERE status = 'completed' ORDER BY completed_at DESC LIMIT ?
		)`, keepMax,
	)
	if err != nil {
		return total, err
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = 'failed' AND completed_at <= ?`,
		now.Add(-failedTTL),
	)
	if err != nil {
		return total, err
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

func (s *SQLiteStorage) QueueMetrics(ctx context.Context) (*QueueMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var m QueueMetrics
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch models.JobStatus(status) {
		case models.JobWaiting:
			m.Waiting = count
		case models.JobActive:
			m.Active = count
		case models.JobCompleted:
			m.Completed = count
		case models.JobFailed:
			m.Failed = count
		}
	}
	return &m, rows.Err()
}

// --- Recipients ---

func (s *SQLiteStorage) UpsertRecipient(ctx context.Context, r *models.Recipient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients (user_id, display_name, device_token, live_activity_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			device_token = excluded.device_token,
			live_activity_token = excluded.live_activity_token,
			updated_at = excluded.updated_at`,
		r.UserID, r.DisplayName, r.DeviceToken, r.LiveActivityToken, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetRecipient(ctx context.Context, userID string) (*models.Recipient, error) {
	var r models.Recipient
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, device_token, live_activity_token, created_at, updated_at FROM recipients WHERE user_id = ?`, userID,
	).Scan(&r.UserID, &r.DisplayName, &r.DeviceToken, &r.LiveActivityToken, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &r, err
}

func (s *SQLiteStorage) ClearLiveActivityToken(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET live_activity_token = '', updated_at = ? WHERE user_id = ?`,
		time.Now().UTC(), userID,
	)
	return err
}
