// Package deliver drains enriched-but-undelivered rows, renders them as
// messages and posts them to the external messaging endpoint.
package deliver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// HTTPMessenger posts rendered messages to the messaging endpoint as
// form-encoded {chat_id, title, text, date}. Any 2xx status is success; the
// response body is logged verbatim either way.
type HTTPMessenger struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

var _ pipeline.Messenger = (*HTTPMessenger)(nil)

// NewHTTPMessenger builds a messenger for the given endpoint.
func NewHTTPMessenger(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPMessenger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMessenger{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Send posts one message.
func (m *HTTPMessenger) Send(ctx context.Context, msg pipeline.Message) error {
	if m.endpoint == "" {
		return fmt.Errorf("messenger endpoint not configured")
	}

	form := url.Values{}
	form.Set("chat_id", msg.ChatID)
	form.Set("title", msg.Title)
	form.Set("text", msg.Text)
	form.Set("date", strconv.FormatInt(msg.DeliverAfter.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	m.logger.Info("messaging endpoint response",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("messaging endpoint error: %s", resp.Status)
	}
	return nil
}
