package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kiwari-pos/orderflow/internal/order"
	"go.uber.org/zap"
)

const (
	DefaultChimeRetryDelay = 500 * time.Millisecond
	announceTimeout        = 30 * time.Second
)

// Chime plays the new-order sound. Play fails when playback is refused.
type Chime interface {
	Play(ctx context.Context) error
}

// SystemNotifier raises an OS-level notification.
type SystemNotifier interface {
	Permitted() bool
	Notify(ctx context.Context, title, body string) error
}

// Speaker reads text aloud. Cancel stops anything still being spoken.
type Speaker interface {
	Cancel()
	Speak(ctx context.Context, text string) error
}

// Announcer signals new orders. Every collaborator is optional.
type Announcer struct {
	Chime      Chime
	Notifier   SystemNotifier
	Speaker    Speaker
	RetryDelay time.Duration
	Logger     *zap.Logger

	wg sync.WaitGroup
}

// NewOrder announces o in the background and returns immediately.
func (a *Announcer) NewOrder(o order.Order) {
	if a == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		a.Announce(ctx, o)
	}()
}

// Wait blocks until background announcements finish.
func (a *Announcer) Wait() { a.wg.Wait() }

// Announce runs the chime (one retry), the notification when permitted and
// the cancel-then-speak announcement. Failures are logged, never returned.
func (a *Announcer) Announce(ctx context.Context, o order.Order) {
	log := a.logger().With(zap.String("order_number", o.OrderNumber))
	text := Phrase(o)

	if a.Chime != nil {
		delay := a.RetryDelay
		if delay <= 0 {
			delay = DefaultChimeRetryDelay
		}
		if err := Retry(ctx, 2, delay, func() error { return a.Chime.Play(ctx) }); err != nil {
			log.Debug("chime not played", zap.Error(err))
		}
	}

	if a.Notifier != nil && a.Notifier.Permitted() {
		if err := a.Notifier.Notify(ctx, "New order", text); err != nil {
			log.Debug("notification failed", zap.Error(err))
		}
	}

	if a.Speaker != nil {
		a.Speaker.Cancel()
		if err := a.Speaker.Speak(ctx, text); err != nil {
			log.Debug("speech failed", zap.Error(err))
		}
	}
}

func (a *Announcer) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Phrase is the spoken and displayed text for a new order.
func Phrase(o order.Order) string {
	number := o.OrderNumber
	if number == "" {
		number = o.ID.String()[:8]
	}
	if o.TableID != "" {
		return fmt.Sprintf("New order %s, table %s", number, o.TableID)
	}
	if o.IsDelivery() {
		return fmt.Sprintf("New delivery order %s", number)
	}
	return fmt.Sprintf("New order %s", number)
}

// --- Terminal implementations ---

// BellChime rings the terminal bell.
type BellChime struct{ W io.Writer }

func (b BellChime) Play(context.Context) error {
	_, err := io.WriteString(b.W, "\a")
	return err
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{ Logger *zap.Logger }

func (LogNotifier) Permitted() bool { return true }

func (n LogNotifier) Notify(_ context.Context, title, body string) error {
	n.Logger.Info(title, zap.String("body", body))
	return nil
}

// LogSpeaker stands in for text-to-speech on headless terminals.
type LogSpeaker struct{ Logger *zap.Logger }

func (LogSpeaker) Cancel() {}

func (s LogSpeaker) Speak(_ context.Context, text string) error {
	s.Logger.Info("announce", zap.String("text", text))
	return nil
}
