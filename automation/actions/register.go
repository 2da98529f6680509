package actions

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/automation"
	"github.com/DKmica/TreeProAIv2-sub008/billing"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
)

// RegisterBuiltins wires the built-in handlers into a registry.
func RegisterBuiltins(registry *automation.Registry, db *sql.DB, logger *zap.SugaredLogger) error {
	jobs := lifecycle.NewJobStore(db)
	clients := billing.NewClientStore(db)
	invoices := billing.NewInvoiceStore(db)

	handlers := []automation.Handler{
		&CreateDraftInvoice{Jobs: jobs, Invoices: invoices, Logger: logger},
		&UpgradeClientCategory{Jobs: jobs, Clients: clients, Logger: logger},
		&DowngradeClientCategory{Jobs: jobs, Clients: clients, Logger: logger},
		NewNotifyWebhook(logger),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}
