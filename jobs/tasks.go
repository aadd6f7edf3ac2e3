// Package jobs hosts the background worker and its task definitions.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLoanOverdueScan flags active loans past their due date.
	TaskLoanOverdueScan = "loan:overdue_scan"
)

// OverdueScanPayload configures a scan run.
type OverdueScanPayload struct {
	RatePerDay int64 `json:"rate_per_day"`
}

// NewOverdueScanTask constructs an Asynq task for the overdue scan.
func NewOverdueScanTask(ratePerDay int64) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueScanPayload{RatePerDay: ratePerDay})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLoanOverdueScan, data), nil
}

// NewOverdueScanHandler returns the handler for TaskLoanOverdueScan. It
// writes one notification row per overdue active loan per day, carrying the
// suggested fee at the configured rate. Loan state itself is never touched;
// fees stay a staff decision at return time.
func NewOverdueScanHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverdueScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tag, err := pool.Exec(ctx, `INSERT INTO overdue_notifications (loan_id, borrower_id, due_date, suggested_fine, notified_on)
SELECT l.id, l.borrower_id, l.due_date,
       CEIL(EXTRACT(EPOCH FROM (NOW() - l.due_date)) / 86400)::bigint * $1,
       CURRENT_DATE
FROM loans l
WHERE l.status = 'dipinjam' AND l.due_date < NOW()
ON CONFLICT (loan_id, notified_on) DO NOTHING`, payload.RatePerDay)
		if err != nil {
			logger.Error("overdue scan", slog.Any("error", err))
			return err
		}
		logger.Info("overdue scan complete", slog.Int64("notified", tag.RowsAffected()))
		return nil
	}
}
