package automation

import (
	"context"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
)

// DefaultRules returns the rules the system ships with: billing follow-ups on
// completion and the guarded client downgrade on cancellation.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			Name:        "completion-billing",
			TriggerType: event.TypeJobTransitioned,
			Conditions:  map[string]interface{}{"to_state": "Completed"},
			Actions: []ActionRef{
				{Name: "create_draft_invoice"},
				{Name: "upgrade_client_category"},
			},
			Enabled: true,
		},
		{
			Name:        "cancellation-downgrade",
			TriggerType: event.TypeJobTransitioned,
			Conditions:  map[string]interface{}{"to_state": "Cancelled"},
			Actions: []ActionRef{
				{Name: "downgrade_client_category"},
			},
			Enabled: true,
		},
	}
}

// EnsureDefaultRules installs any missing default rule, keyed by name.
// Existing rules, including disabled or edited ones, are left alone.
func EnsureDefaultRules(ctx context.Context, store *RuleStore, logger *zap.SugaredLogger) error {
	for _, rule := range DefaultRules() {
		_, err := store.GetByName(ctx, rule.Name)
		if err == nil {
			continue
		}
		if !errors.IsNotFoundError(err) {
			return errors.Wrapf(err, "failed to look up rule %q", rule.Name)
		}
		if err := store.Create(ctx, rule); err != nil {
			return errors.Wrapf(err, "failed to install default rule %q", rule.Name)
		}
		if logger != nil {
			logger.Infow("Installed default automation rule",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
			)
		}
	}
	return nil
}
