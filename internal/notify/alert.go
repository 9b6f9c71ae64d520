package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// AlertPayload Webhook 告警消息体
type AlertPayload struct {
	Source              string    `json:"source"`
	DeviceHost          string    `json:"device_host"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// AlertNotifier 设备连续同步失败时向运维 Webhook 推送告警
type AlertNotifier struct {
	httpClient *resty.Client
	webhookURL string
	deviceHost string
	logger     *zap.Logger
}

// NewAlertNotifier 创建告警通知器，webhookURL 为空时通知被禁用
func NewAlertNotifier(webhookURL, deviceHost string, logger *zap.Logger) *AlertNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &AlertNotifier{
		httpClient: client,
		webhookURL: webhookURL,
		deviceHost: deviceHost,
		logger:     logger,
	}
}

// Enabled 是否配置了 Webhook
func (n *AlertNotifier) Enabled() bool {
	return n.webhookURL != ""
}

// NotifyDeviceUnreachable 推送设备不可达告警
func (n *AlertNotifier) NotifyDeviceUnreachable(ctx context.Context, consecutiveFailures int, lastErr error) error {
	if !n.Enabled() {
		return nil
	}

	payload := AlertPayload{
		Source:              "antigravity-biosync",
		DeviceHost:          n.deviceHost,
		ConsecutiveFailures: consecutiveFailures,
		OccurredAt:          time.Now().UTC(),
	}
	if lastErr != nil {
		payload.LastError = lastErr.Error()
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to post alert webhook: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}

	n.logger.Info("Device alert delivered",
		zap.String("device_host", n.deviceHost),
		zap.Int("consecutive_failures", consecutiveFailures))
	return nil
}
