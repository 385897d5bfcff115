package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

// WebhookPoster publica en redes a través de un webhook compatible con Discord
// ({"content": "..."}).
type WebhookPoster struct {
	url     string
	httpCli *http.Client
	logger  *zap.Logger
}

func NewWebhookPoster(url string, httpCli *http.Client, logger *zap.Logger) *WebhookPoster {
	if httpCli == nil {
		httpCli = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPoster{url: strings.TrimSpace(url), httpCli: httpCli, logger: util.OrNop(logger)}
}

func (p *WebhookPoster) Post(ctx context.Context, text string) error {
	if p.url == "" {
		return errors.NewNotConnectedError("social")
	}
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return errors.NewValidationError("invalid webhook url", "SOCIAL_WEBHOOK_URL", p.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpCli.Do(req)
	if err != nil {
		return errors.NewPlatformError("social webhook", "social", 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.NewPlatformError(fmt.Sprintf("social webhook status %d: %s", resp.StatusCode, msg),
			"social", resp.StatusCode, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, nil)
	}
	p.logger.Debug("social: posted", zap.Int("length", len(text)))
	return nil
}
