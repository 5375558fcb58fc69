package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SlackNotifier posts ops alerts to an incoming webhook. With no URL
// configured alerts are only logged.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

func NewSlackNotifier(webhookURL string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (s *SlackNotifier) Alert(ctx context.Context, text string) error {
	if s.webhookURL == "" {
		s.logger.Info("slack skipped: SLACK_WEBHOOK_URL not set", zap.String("alert", text))
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": "🚨 TOEIC Prep\n\n" + text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack API error: status %d", resp.StatusCode)
	}
	return nil
}
