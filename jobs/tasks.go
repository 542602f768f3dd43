package jobs

import (
	"context"
	"encoding/json"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/kanbu-pm/kanbu/internal/platform/cache"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMembershipSweep removes group memberships whose expiry has passed.
	TaskMembershipSweep = "groups:membership_sweep"
)

// MembershipSweepPayload carries parameters for a sweep run. Empty today;
// kept as a struct so future runs can scope the sweep without a new task type.
type MembershipSweepPayload struct{}

// NewMembershipSweepTask constructs an Asynq task for the periodic sweep.
func NewMembershipSweepTask() (*asynq.Task, error) {
	data, err := json.Marshal(MembershipSweepPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMembershipSweep, data), nil
}

// MembershipSweeper is the slice of the groups service the job needs.
type MembershipSweeper interface {
	SweepExpiredMembers(ctx context.Context) (int64, error)
}

// MembershipSweepJob deletes expired membership rows on a schedule.
type MembershipSweepJob struct {
	sweeper   MembershipSweeper
	decisions *cache.Decisions
	logger    *slog.Logger
}

// NewMembershipSweepJob builds MembershipSweepJob instance.
func NewMembershipSweepJob(sweeper MembershipSweeper, decisions *cache.Decisions, logger *slog.Logger) *MembershipSweepJob {
	return &MembershipSweepJob{sweeper: sweeper, decisions: decisions, logger: logger}
}

// Handle processes TaskMembershipSweep tasks.
func (j *MembershipSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload MembershipSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	removed, err := j.sweeper.SweepExpiredMembers(ctx)
	if err != nil {
		j.logger.Error("membership sweep", slog.Any("error", err))
		return err
	}
	if removed > 0 {
		j.logger.Info("membership sweep removed rows", slog.Int64("count", removed))
		// Expired memberships change what both resolvers compute, so cached
		// decisions from before the sweep must stop matching.
		j.decisions.InvalidateAll(ctx, cache.NamespaceACL, cache.NamespaceNamed)
	}
	return nil
}
