package users

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/hrm/pkg/observability"
)

// DefaultCleanupTimeout bounds a single cleanup run
const DefaultCleanupTimeout = 30 * time.Second

// CleanupJob clears expired OTP codes and invite tokens. It implements cron.Job.
type CleanupJob struct {
	service *Service
	logger  *observability.Logger
	runs    *prometheus.CounterVec
	cleared prometheus.Counter
	timeout time.Duration
}

var _ cron.Job = (*CleanupJob)(nil)

// NewCleanupJob creates the job. runs (labeled by status) and cleared may be nil.
func NewCleanupJob(service *Service, logger *observability.Logger, runs *prometheus.CounterVec, cleared prometheus.Counter) *CleanupJob {
	return &CleanupJob{
		service: service,
		logger:  logger,
		runs:    runs,
		cleared: cleared,
		timeout: DefaultCleanupTimeout,
	}
}

// Run performs one cleanup pass
func (j *CleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.service.CleanupExpired(ctx)
	if j.cleared != nil && n > 0 {
		j.cleared.Add(float64(n))
	}
	if err != nil {
		j.count("error")
		j.logger.WithError(err).Error("Expired credential cleanup failed")
		return
	}
	j.count("success")
	if n > 0 {
		j.logger.WithField("rows", n).Info("Cleared expired OTP codes and invites")
	}
}

func (j *CleanupJob) count(status string) {
	if j.runs != nil {
		j.runs.WithLabelValues(status).Inc()
	}
}

// ScheduleCleanup registers the job on c. An empty spec disables it.
func ScheduleCleanup(c *cron.Cron, spec string, job *CleanupJob) (cron.EntryID, error) {
	if spec == "" {
		return 0, nil
	}
	return c.AddJob(spec, job)
}
