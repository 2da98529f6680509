package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/internal/httpclient"
)

// NotifyWebhook posts the event JSON to the URL configured on the rule. The
// receiving side deduplicates on the event id, so replays are its problem to
// absorb.
type NotifyWebhook struct {
	Client *httpclient.SaferClient
	Logger *zap.SugaredLogger
}

// NewNotifyWebhook creates the handler with an SSRF-guarded client.
func NewNotifyWebhook(logger *zap.SugaredLogger) *NotifyWebhook {
	return &NotifyWebhook{
		Client: httpclient.NewSaferClient(15 * time.Second),
		Logger: logger,
	}
}

func (a *NotifyWebhook) Name() string { return "notify_webhook" }

func (a *NotifyWebhook) Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error {
	url, _ := params["url"].(string)
	if url == "" {
		return errors.New("notify_webhook requires a \"url\" param")
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TreePro-Event-ID", evt.ID)

	resp, err := a.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("webhook returned status %d", resp.StatusCode)
	}

	if a.Logger != nil {
		a.Logger.Debugw("Webhook delivered",
			"url", url,
			"event_id", evt.ID,
			"status", resp.StatusCode,
		)
	}
	return nil
}
