package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSign(t *testing.T) {
	t.Parallel()

	mac := hmac.New(sha256.New, []byte("SEC123"))
	mac.Write([]byte("1700000000000\nSEC123"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign("SEC123", 1700000000000))
	assert.NotEqual(t, want, Sign("SEC123", 1700000000001))
}

// robotServer records decoded messages and query parameters.
type robotServer struct {
	mu      sync.Mutex
	queries []map[string]string
	bodies  []map[string]any
	errcode int
}

func (s *robotServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}

	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	s.queries = append(s.queries, q)
	s.bodies = append(s.bodies, body)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"errcode": s.errcode, "errmsg": "x"})
}

func newRobot(t *testing.T, url string) *Robot {
	t.Helper()

	r := NewRobot(RobotConfig{
		WebhookURL:     url + "/robot/send",
		AccessToken:    "tok",
		Secret:         "SEC",
		Mentions:       []string{"13800000000"},
		MentionUserIDs: []string{"u1"},
	}, http.DefaultClient, testLogger(t))
	r.nowFunc = func() time.Time { return time.UnixMilli(1700000000000) }

	return r
}

func TestRobot_SignedActionCard(t *testing.T) {
	srv := &robotServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	r := newRobot(t, ts.URL)

	require.NoError(t, r.Send(t.Context(), SessionExpired("token rejected", "https://trigger.example/start-login")))

	require.Len(t, srv.queries, 1)
	q := srv.queries[0]
	assert.Equal(t, "tok", q["access_token"])
	assert.Equal(t, "1700000000000", q["timestamp"])
	assert.Equal(t, Sign("SEC", 1700000000000), q["sign"], "sign round-trips through query escaping")

	body := srv.bodies[0]
	assert.Equal(t, "actionCard", body["msgtype"])

	card := body["actionCard"].(map[string]any)
	assert.Equal(t, "Source session expired", card["title"])
	assert.Contains(t, card["text"], "token rejected")

	btns := card["btns"].([]any)
	require.Len(t, btns, 1)
	assert.Equal(t, "https://trigger.example/start-login", btns[0].(map[string]any)["actionURL"])

	at := body["at"].(map[string]any)
	assert.Equal(t, []any{"13800000000"}, at["atMobiles"])
	assert.Equal(t, []any{"u1"}, at["atUserIds"])
}

func TestRobot_Markdown(t *testing.T) {
	srv := &robotServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	r := newRobot(t, ts.URL)

	require.NoError(t, r.Send(t.Context(), Message{Title: "Sync report", Text: "#### done"}))

	body := srv.bodies[0]
	assert.Equal(t, "markdown", body["msgtype"])
	assert.Equal(t, map[string]any{"title": "Sync report", "text": "#### done"}, body["markdown"])
	assert.Nil(t, body["actionCard"])
}

func TestRobot_ErrCode(t *testing.T) {
	srv := &robotServer{errcode: 310000}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	err := newRobot(t, ts.URL).Send(t.Context(), Message{Title: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "310000")
}

func TestRobot_UnsignedWhenNoSecret(t *testing.T) {
	srv := &robotServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	r := NewRobot(RobotConfig{WebhookURL: ts.URL, AccessToken: "tok"}, http.DefaultClient, testLogger(t))
	require.NoError(t, r.Send(t.Context(), Message{Title: "x"}))

	assert.NotContains(t, srv.queries[0], "sign")
	assert.NotContains(t, srv.queries[0], "timestamp")
}

// recordingSender collects messages and can be made to fail or block.
type recordingSender struct {
	mu    sync.Mutex
	msgs  []Message
	err   error
	block chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)

	return s.err
}

func TestNotifier_DispatchAndFlush(t *testing.T) {
	t.Parallel()

	s := &recordingSender{err: errors.New("boom")}
	n := NewNotifier(s, testLogger(t))

	n.Dispatch(Message{Title: "a"})
	n.Dispatch(Message{Title: "b"})

	require.True(t, n.Flush(5*time.Second))
	assert.Len(t, s.msgs, 2, "failures are logged, not propagated")
}

func TestNotifier_FlushTimesOut(t *testing.T) {
	t.Parallel()

	s := &recordingSender{block: make(chan struct{})}
	n := NewNotifier(s, testLogger(t))

	n.Dispatch(Message{Title: "slow"})

	assert.False(t, n.Flush(10*time.Millisecond))

	close(s.block)
	assert.True(t, n.Flush(5*time.Second))
}

func TestNotifier_Disabled(t *testing.T) {
	t.Parallel()

	n := NewNotifier(nil, testLogger(t))
	assert.False(t, n.Enabled())

	n.Dispatch(Message{Title: "ignored"})
	assert.True(t, n.Flush(time.Millisecond))

	var nilNotifier *Notifier
	nilNotifier.Dispatch(Message{})
	assert.True(t, nilNotifier.Flush(time.Millisecond))
}
