// =============================================================================
// Roundtable Webhook Transport
// =============================================================================
// Delivers outbound conversation messages to a single HTTP endpoint. The
// receiver owns the mapping from channel_ref to a real chat channel.
// =============================================================================

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/roundtable/internal/tlsutil"
	"github.com/BaSui01/roundtable/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignatureHeader carries "sha256=<hex hmac of body>" when a secret is configured.
const SignatureHeader = "X-Roundtable-Signature"

// DeliveryHeader carries the per-delivery idempotency key.
const DeliveryHeader = "X-Roundtable-Delivery"

// Config 投递配置
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// CAFile 接收方使用私有证书时的 PEM 根证书文件
	CAFile string
}

// Payload 发送给接收方的请求体
type Payload struct {
	DeliveryID string    `json:"delivery_id"`
	ChannelRef string    `json:"channel_ref"`
	Text       string    `json:"text"`
	ReplyTo    []string  `json:"reply_to,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// receipt 接收方可选返回的外部消息 id
type receipt struct {
	ID string `json:"id"`
}

// Transport 通过 HTTP POST 投递消息，实现 dispatch.Transport
type Transport struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
	logger *zap.Logger
}

// New 创建 webhook 投递器
func New(cfg Config, logger *zap.Logger) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := tlsutil.LoadCertPool(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("webhook tls: %w", err)
	}
	// 只有一个接收方，少量空闲连接即可；3xx 视为投递失败而不是跟随
	client := tlsutil.SecureHTTPClient(cfg.Timeout,
		tlsutil.WithMaxIdlePerHost(4),
		tlsutil.WithRootCAs(pool),
		tlsutil.WithoutRedirects(),
	)
	return &Transport{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		logger: logger.With(zap.String("component", "webhook")),
	}, nil
}

// Sign 计算 body 的签名头取值
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验签名头，接收方可直接复用
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Deliver 投递一条消息并返回外部 id；接收方未返回 id 时使用 delivery id。
// 429 与 5xx 返回可重试错误，其余 4xx 不可重试。
func (t *Transport) Deliver(ctx context.Context, channelRef, text string, replyToIDs []string) (string, error) {
	p := Payload{
		DeliveryID: uuid.NewString(),
		ChannelRef: channelRef,
		Text:       text,
		ReplyTo:    replyToIDs,
		SentAt:     t.now().UTC(),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, p.DeliveryID)
	if t.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.cfg.Secret, body))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", types.NewError(types.ErrUpstreamError, err.Error()).WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", types.NewError(types.ErrUpstreamError, fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(retryable)
	}

	id := p.DeliveryID
	var rc receipt
	if len(data) > 0 && json.Unmarshal(data, &rc) == nil && rc.ID != "" {
		id = rc.ID
	}
	t.logger.Debug("message delivered",
		zap.String("channel_ref", channelRef),
		zap.String("delivery_id", p.DeliveryID),
		zap.String("external_id", id),
	)
	return id, nil
}
