package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/hrm/pkg/observability"
)

// Pruner removes events older than a cutoff
type Pruner interface {
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// RetentionJob prunes the audit trail. It implements cron.Job.
type RetentionJob struct {
	pruner    Pruner
	retention time.Duration
	logger    *observability.Logger
	now       func() time.Time
	timeout   time.Duration
}

var _ cron.Job = (*RetentionJob)(nil)

// NewRetentionJob creates a job keeping events younger than retention
func NewRetentionJob(pruner Pruner, retention time.Duration, logger *observability.Logger) *RetentionJob {
	return &RetentionJob{
		pruner:    pruner,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		timeout:   time.Minute,
	}
}

// Run performs one pruning pass
func (j *RetentionJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.pruner.Cleanup(ctx, cutoff)
	if err != nil {
		j.logger.WithError(err).Error("Audit retention cleanup failed")
		return
	}
	if n > 0 {
		j.logger.WithFields(map[string]interface{}{
			"rows":   n,
			"cutoff": cutoff.Format(time.RFC3339),
		}).Info("Pruned audit events")
	}
}

// ScheduleRetention registers the job on c. A non-positive retention or an
// empty spec keeps events forever.
func ScheduleRetention(c *cron.Cron, spec string, job *RetentionJob) (cron.EntryID, error) {
	if spec == "" || job.retention <= 0 {
		return 0, nil
	}
	return c.AddJob(spec, job)
}
