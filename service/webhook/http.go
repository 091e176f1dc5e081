package webhook

import (
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type httpService struct {
	CfgSvc config.IService
	client *resty.Client
}

// NewHTTP posts JSON payloads to the configured webhook URL. An empty URL
// turns Post into a no-op.
func NewHTTP(cfgsvc config.IService) IService {
	return &httpService{
		CfgSvc: cfgsvc,
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetHeader("Content-Type", "application/json"),
	}
}

func (svc *httpService) Post(payload map[string]interface{}) error {
	target := svc.CfgSvc.GetShareParameters().WebhookURL
	if target == "" {
		return nil
	}

	resp, err := svc.client.R().
		SetBody(payload).
		Post(target)
	if err != nil {
		return xerrors.Errorf("posting webhook: %w", err)
	}
	if resp.IsError() {
		return xerrors.Errorf("webhook %s returned %d", target, resp.StatusCode())
	}

	lgr.Logger.Debug("webhook posted",
		slog.String("url", target),
		slog.Int("status", resp.StatusCode()),
	)
	return nil
}
