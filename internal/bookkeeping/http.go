package bookkeeping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPRecorder posts updates as JSON with a bearer API key, retrying
// transport errors and 5xx responses.
type HTTPRecorder struct {
	endpoint string
	apiKey   string
	client   *retryablehttp.Client
	logger   *zap.Logger
}

func NewHTTPRecorder(endpoint, apiKey string, logger *zap.Logger) *HTTPRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bookkeeping")
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 15 * time.Second
	c.Logger = leveledLogger{logger.Sugar()}
	return &HTTPRecorder{endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey), client: c, logger: logger}
}

func (r *HTTPRecorder) UpdatePosition(ctx context.Context, update PositionUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal position update: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build position update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post position update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("position update rejected: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	r.logger.Info("position updated", zap.String("old_pool_id", update.OldPoolID), zap.String("new_pool_id", update.NewPoolID))
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
