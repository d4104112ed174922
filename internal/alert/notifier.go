package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sendTimeout bounds a single delivery attempt.
const sendTimeout = 15 * time.Second

// Sender delivers one message. Satisfied by *Robot.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier dispatches alerts asynchronously so the pipeline never blocks on
// delivery. A Notifier with a nil Sender only logs.
type Notifier struct {
	sender Sender
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier around sender, which may be nil.
func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{sender: sender, logger: logger}
}

// Enabled reports whether alerts are delivered anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil
}

// Dispatch sends msg in the background. Failures are logged only.
func (n *Notifier) Dispatch(msg Message) {
	if !n.Enabled() {
		if n != nil {
			n.logger.Info("alert not configured, skipping", slog.String("title", msg.Title))
		}

		return
	}

	n.wg.Add(1)

	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := n.sender.Send(ctx, msg); err != nil {
			n.logger.Warn("alert delivery failed",
				slog.String("title", msg.Title),
				slog.String("error", err.Error()),
			)

			return
		}

		n.logger.Info("alert sent", slog.String("title", msg.Title))
	}()
}

// Flush waits up to timeout for in-flight dispatches. It reports whether all
// of them finished.
func (n *Notifier) Flush(timeout time.Duration) bool {
	if n == nil {
		return true
	}

	done := make(chan struct{})

	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		n.logger.Warn("alerts still in flight at exit", slog.Duration("waited", timeout))
		return false
	}
}

// SessionExpired is the re-login request sent when the source session is
// no longer accepted. triggerURL, when set, becomes the card's button.
func SessionExpired(detail, triggerURL string) Message {
	text := "#### Source session expired\n\nThe document sync run was aborted. " +
		"Please sign in again so the next run can proceed."
	if detail != "" {
		text += "\n\n> " + detail
	}

	return Message{
		Title:       "Source session expired",
		Text:        text,
		ActionTitle: "Sign in again",
		ActionURL:   triggerURL,
	}
}
