package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DingTalkNotifier sends markdown alerts to a DingTalk group robot
// webhook, optionally signing requests with the robot's secret.
type DingTalkNotifier struct {
	webhook string
	secret  string
	client  *http.Client
}

// NewDingTalkNotifier creates a DingTalk notifier.
// webhook: the robot webhook URL. secret: optional signing secret.
func NewDingTalkNotifier(webhook, secret string) *DingTalkNotifier {
	return &DingTalkNotifier{
		webhook: webhook,
		secret:  secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *DingTalkNotifier) Name() string { return "dingtalk" }

func (d *DingTalkNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("# [%s] %s\n- %s", alert.Level, alert.Title, alert.Message)
	if !alert.Event.TriggeredAt.IsZero() {
		text += "\n- triggered at (UTC): " + alert.Event.TriggeredAt.UTC().Format("2006-01-02 15:04:05")
	}

	body, err := json.Marshal(map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": alert.Title,
			"text":  text,
		},
	})
	if err != nil {
		return fmt.Errorf("dingtalk: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.signedURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dingtalk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dingtalk: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[dingtalk] sent alert: %s", alert.Title)
	return nil
}

// signedURL appends timestamp and HMAC-SHA256 signature query params
// when a secret is configured, per the DingTalk robot security scheme.
func (d *DingTalkNotifier) signedURL() string {
	if d.secret == "" {
		return d.webhook
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write([]byte(ts + "\n" + d.secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("timestamp", ts)
	q.Set("sign", sign)
	return d.webhook + "&" + q.Encode()
}
