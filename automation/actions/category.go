package actions

import (
	"context"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/billing"
	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
)

// UpgradeClientCategory flips the job's client to active. Setting a category
// the client already has is a no-op, so replays are harmless.
type UpgradeClientCategory struct {
	Jobs    *lifecycle.JobStore
	Clients *billing.ClientStore
	Logger  *zap.SugaredLogger
}

func (a *UpgradeClientCategory) Name() string { return "upgrade_client_category" }

func (a *UpgradeClientCategory) Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error {
	if evt.JobID == "" {
		return errors.New("event has no job id")
	}
	job, err := a.Jobs.Get(ctx, evt.JobID)
	if err != nil {
		return err
	}
	if err := a.Clients.SetCategory(ctx, job.ClientID, billing.CategoryActive); err != nil {
		return err
	}
	if a.Logger != nil {
		a.Logger.Infow("Upgraded client category",
			"client_id", job.ClientID,
			"job_id", job.ID,
		)
	}
	return nil
}

// DowngradeClientCategory moves the job's client back to potential, but only
// when the client has no other non-cancelled job. The guard query is this
// action's responsibility, not the engine's.
type DowngradeClientCategory struct {
	Jobs    *lifecycle.JobStore
	Clients *billing.ClientStore
	Logger  *zap.SugaredLogger
}

func (a *DowngradeClientCategory) Name() string { return "downgrade_client_category" }

func (a *DowngradeClientCategory) Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error {
	if evt.JobID == "" {
		return errors.New("event has no job id")
	}
	job, err := a.Jobs.Get(ctx, evt.JobID)
	if err != nil {
		return err
	}

	remaining, err := a.Jobs.CountOtherNonCancelled(ctx, job.ClientID, job.ID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		if a.Logger != nil {
			a.Logger.Debugw("Client still has active jobs, keeping category",
				"client_id", job.ClientID,
				"remaining_jobs", remaining,
			)
		}
		return nil
	}

	if err := a.Clients.SetCategory(ctx, job.ClientID, billing.CategoryPotential); err != nil {
		return err
	}
	if a.Logger != nil {
		a.Logger.Infow("Downgraded client category",
			"client_id", job.ClientID,
			"job_id", job.ID,
		)
	}
	return nil
}
