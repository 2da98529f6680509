// Package actions holds the built-in automation action handlers. Every
// handler is idempotent per event: replaying an event detects the prior side
// effect and no-ops.
package actions

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/billing"
	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
)

// CreateDraftInvoice creates a draft invoice for the job that triggered the
// event, unless one already exists. The existence check plus the UNIQUE
// constraint on invoices.job_id make double delivery harmless.
type CreateDraftInvoice struct {
	Jobs     *lifecycle.JobStore
	Invoices *billing.InvoiceStore
	Logger   *zap.SugaredLogger
}

func (a *CreateDraftInvoice) Name() string { return "create_draft_invoice" }

func (a *CreateDraftInvoice) Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error {
	if evt.JobID == "" {
		return errors.New("event has no job id")
	}

	exists, err := a.Invoices.ExistsForJob(ctx, evt.JobID)
	if err != nil {
		return err
	}
	if exists {
		if a.Logger != nil {
			a.Logger.Debugw("Invoice already exists, skipping",
				"job_id", evt.JobID,
				"event_id", evt.ID,
			)
		}
		return nil
	}

	job, err := a.Jobs.Get(ctx, evt.JobID)
	if err != nil {
		return err
	}

	inv := &billing.Invoice{
		JobID:    job.ID,
		ClientID: job.ClientID,
		Amount:   amountFromPayload(job.CostPayload),
	}
	if err := a.Invoices.Create(ctx, inv); err != nil {
		return err
	}

	if a.Logger != nil {
		a.Logger.Infow("Created draft invoice",
			"invoice_id", inv.ID,
			"job_id", job.ID,
			"amount", inv.Amount,
		)
	}
	return nil
}

// amountFromPayload extracts the billable amount from the job's opaque cost
// payload. Unknown shapes bill at zero; the draft gets corrected by a human.
func amountFromPayload(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var payload struct {
		Amount float64 `json:"amount"`
		Total  float64 `json:"total"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0
	}
	if payload.Amount != 0 {
		return payload.Amount
	}
	return payload.Total
}
