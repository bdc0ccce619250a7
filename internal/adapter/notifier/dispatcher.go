package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/syncbackup/internal/domain"
)

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeBatch     Mode = "batch"
	ModeDisabled  Mode = "disabled"
)

const (
	maxFailedNames = 3

	// SendTimeout bounds one delivery, including the wait for the rate limiter.
	SendTimeout = 30 * time.Second
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Dispatcher implements domain.Notifier. In batch mode notifications are
// held until Flush sends a single summary.
type Dispatcher struct {
	mode    Mode
	sender  Sender
	logger  Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []domain.Notification
}

func NewDispatcher(mode Mode, sender Sender, logger Logger) *Dispatcher {
	return &Dispatcher{mode: mode, sender: sender, logger: logger, timeout: SendTimeout}
}

func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) {
	switch d.mode {
	case ModeImmediate:
		d.send(ctx, formatOne(n))
	case ModeBatch:
		d.mu.Lock()
		d.pending = append(d.pending, n)
		d.mu.Unlock()
	}
}

// Pending reports how many notifications wait for the next Flush.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush sends the summary of everything queued since the last flush.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	d.send(ctx, formatSummary(batch))
}

// send never outlives d.timeout, so a stalled transport cannot hold up the
// run that triggered the notification.
func (d *Dispatcher) send(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, text); err != nil {
		d.logger.Warnf("Failed to send notification: %v", err)
	}
}

func formatOne(n domain.Notification) string {
	var title string
	switch n.Status {
	case domain.LogSuccess:
		title = "✅ Backup Completed"
	case domain.LogError:
		title = "❌ Backup Failed"
	case domain.LogSkipped:
		title = "⏸️ Backup Skipped"
	default:
		title = "ℹ️ Backup " + string(n.Status)
	}

	return fmt.Sprintf("%s\n\n📁 Job: %s\n🕐 Time: %s\n\n%s",
		title, n.JobName, n.At.Format(time.DateTime), n.Details)
}

func formatSummary(batch []domain.Notification) string {
	var success, failed, skipped int
	var failedNames []string
	for _, n := range batch {
		switch n.Status {
		case domain.LogSuccess:
			success++
		case domain.LogError:
			failed++
			failedNames = append(failedNames, n.JobName)
		case domain.LogSkipped:
			skipped++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Backup Summary (%d jobs)\n", len(batch))
	if success > 0 {
		fmt.Fprintf(&b, "\n✅ %d completed", success)
	}
	if failed > 0 {
		fmt.Fprintf(&b, "\n❌ %d failed", failed)
	}
	if skipped > 0 {
		fmt.Fprintf(&b, "\n⏸️ %d skipped", skipped)
	}

	if failed > 0 {
		shown := failedNames[:min(len(failedNames), maxFailedNames)]
		fmt.Fprintf(&b, "\n\nFailed: %s", strings.Join(shown, ", "))
		if rest := len(failedNames) - len(shown); rest > 0 {
			fmt.Fprintf(&b, " (+%d more)", rest)
		}
	}
	return b.String()
}
