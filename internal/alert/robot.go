// Package alert delivers operator notifications through a signed group-chat
// robot webhook (DingTalk custom robot protocol). Delivery is best effort:
// a failed alert never fails a sync run.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrDelivery is returned when the robot endpoint rejects a message.
var ErrDelivery = errors.New("alert: delivery failed")

// Message is one notification. A message with an ActionURL is sent as an
// action card with a single button; otherwise it is sent as markdown.
type Message struct {
	Title       string
	Text        string
	ActionTitle string
	ActionURL   string
	AtAll       bool
}

// RobotConfig configures a robot webhook.
type RobotConfig struct {
	WebhookURL     string
	AccessToken    string
	Secret         string
	Mentions       []string // mobile numbers
	MentionUserIDs []string
}

// Robot sends messages to a signed robot webhook.
type Robot struct {
	cfg        RobotConfig
	httpClient *http.Client
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewRobot creates a robot client.
func NewRobot(cfg RobotConfig, httpClient *http.Client, logger *slog.Logger) *Robot {
	if logger == nil {
		logger = slog.Default()
	}

	return &Robot{cfg: cfg, httpClient: httpClient, logger: logger, nowFunc: time.Now}
}

// Sign returns the base64 HMAC-SHA256 of "<timestamp>\n<secret>" keyed by
// secret, as the robot protocol requires. timestamp is in milliseconds.
func Sign(secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "\n" + secret))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// endpoint builds the request URL. The signature is query-escaped by
// url.Values.
func (r *Robot) endpoint() (string, error) {
	u, err := url.Parse(r.cfg.WebhookURL)
	if err != nil {
		return "", fmt.Errorf("alert: parsing webhook URL: %w", err)
	}

	q := u.Query()
	q.Set("access_token", r.cfg.AccessToken)

	if r.cfg.Secret != "" {
		ts := r.nowFunc().UnixMilli()
		q.Set("timestamp", strconv.FormatInt(ts, 10))
		q.Set("sign", Sign(r.cfg.Secret, ts))
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

type atSpec struct {
	IsAtAll   bool     `json:"isAtAll"`
	AtMobiles []string `json:"atMobiles,omitempty"`
	AtUserIDs []string `json:"atUserIds,omitempty"`
}

type actionButton struct {
	Title     string `json:"title"`
	ActionURL string `json:"actionURL"`
}

type actionCard struct {
	Title          string         `json:"title"`
	Text           string         `json:"text"`
	BtnOrientation string         `json:"btnOrientation"`
	Btns           []actionButton `json:"btns"`
}

type markdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type robotMessage struct {
	MsgType    string      `json:"msgtype"`
	ActionCard *actionCard `json:"actionCard,omitempty"`
	Markdown   *markdown   `json:"markdown,omitempty"`
	At         atSpec      `json:"at"`
}

func (r *Robot) encode(msg Message) robotMessage {
	out := robotMessage{
		At: atSpec{
			IsAtAll:   msg.AtAll,
			AtMobiles: r.cfg.Mentions,
			AtUserIDs: r.cfg.MentionUserIDs,
		},
	}

	if msg.ActionURL != "" {
		title := msg.ActionTitle
		if title == "" {
			title = msg.Title
		}

		out.MsgType = "actionCard"
		out.ActionCard = &actionCard{
			Title:          msg.Title,
			Text:           msg.Text,
			BtnOrientation: "0",
			Btns:           []actionButton{{Title: title, ActionURL: msg.ActionURL}},
		}

		return out
	}

	out.MsgType = "markdown"
	out.Markdown = &markdown{Title: msg.Title, Text: msg.Text}

	return out
}

// Send delivers msg and checks the robot's errcode.
func (r *Robot) Send(ctx context.Context, msg Message) error {
	endpoint, err := r.endpoint()
	if err != nil {
		return err
	}

	rm := r.encode(msg)

	body, err := json.Marshal(rm)
	if err != nil {
		return fmt.Errorf("alert: encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrDelivery, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrDelivery, resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrDelivery, err)
	}

	if result.ErrCode != 0 {
		return fmt.Errorf("%w: errcode %d: %s", ErrDelivery, result.ErrCode, result.ErrMsg)
	}

	r.logger.Debug("alert delivered", slog.String("msgtype", rm.MsgType))

	return nil
}
