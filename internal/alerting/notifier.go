package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier 定义告警输送接口。Send is fire-and-forget from the caller's
// perspective: implementations queue failed messages for a later
// ResendFailed pass instead of retrying inline.
type Notifier interface {
	Send(ctx context.Context, text string) error
	ResendFailed(ctx context.Context)
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger

	queueMu    sync.Mutex
	queue      []string
	queueLimit int
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, queueLimit int, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if queueLimit <= 0 {
		queueLimit = 100
	}

	return &TelegramNotifier{
		botToken:   botToken,
		chatID:     chatID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_telegram").Logger(),
		queueLimit: queueLimit,
	}
}

// Send 调用 sendMessage API 推送文本; a failed send is queued for the next
// ResendFailed pass.
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	if err := n.deliver(ctx, text); err != nil {
		n.enqueue(text)
		n.logger.Error().Err(err).Msg("notification queued after send failure")
		return err
	}
	return nil
}

// ResendFailed attempts redelivery of queued messages in order. On the first
// failure the remaining tail goes back on the queue.
func (n *TelegramNotifier) ResendFailed(ctx context.Context) {
	n.queueMu.Lock()
	pending := n.queue
	n.queue = nil
	n.queueMu.Unlock()

	for i, text := range pending {
		if err := n.deliver(ctx, text); err != nil {
			n.logger.Warn().Err(err).Int("remaining", len(pending)-i).Msg("resend aborted")
			n.requeue(pending[i:])
			return
		}
	}
	if len(pending) > 0 {
		n.logger.Info().Int("count", len(pending)).Msg("queued notifications redelivered")
	}
}

func (n *TelegramNotifier) enqueue(text string) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	if len(n.queue) >= n.queueLimit {
		n.queue = n.queue[1:]
	}
	n.queue = append(n.queue, text)
}

func (n *TelegramNotifier) requeue(texts []string) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	n.queue = append(texts, n.queue...)
	if over := len(n.queue) - n.queueLimit; over > 0 {
		n.queue = n.queue[over:]
	}
}

// queued reports the queue depth; used by tests.
func (n *TelegramNotifier) queued() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue)
}

func (n *TelegramNotifier) deliver(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)

// Nop discards all notifications; it backs disabled alerting config.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }
func (Nop) ResendFailed(context.Context)       {}

var _ Notifier = Nop{}
