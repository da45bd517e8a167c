package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Notifier is informed after the fact of confirmed groups and plan changes.
// Callers log failures and never roll back for them.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// Desktop sends system notifications.
// On macOS, uses osascript to display notifications.
// On other platforms, this is a no-op.
type Desktop struct {
	Enabled bool
}

func (n *Desktop) Send(ctx context.Context, title, message string) error {
	if !n.Enabled {
		return nil
	}
	if runtime.GOOS != "darwin" {
		return nil
	}
	return sendMacOSNotification(ctx, title, message)
}

// sendMacOSNotification uses osascript to display a notification.
func sendMacOSNotification(ctx context.Context, title, message string) error {
	title = strings.ReplaceAll(title, `"`, `\"`)
	message = strings.ReplaceAll(message, `"`, `\"`)

	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (n *Log) Send(ctx context.Context, title, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "title", title, "message", message)
	return nil
}

// Multi fans out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, message string) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, title, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Message is a notification captured by Recorder.
type Message struct {
	Title   string
	Message string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Title: title, Message: message})
	return r.Err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// FormatGroupConfirmed formats a goal group confirmation message.
func FormatGroupConfirmed(groupTitle string, plans int) (title, message string) {
	title = "✅ Goal group confirmed"
	message = fmt.Sprintf("%s: %d plan(s) are now active", groupTitle, plans)
	return title, message
}

// FormatReplan formats a re-plan outcome message.
func FormatReplan(groupTitle, reason string, activated, failed int) (title, message string) {
	if failed > 0 {
		title = "⚠️ Re-plan incomplete"
		message = fmt.Sprintf("%s (%s): %d plan(s) updated, %d failed", groupTitle, reason, activated, failed)
	} else {
		title = "🔄 Plans updated"
		message = fmt.Sprintf("%s (%s): %d plan(s) updated", groupTitle, reason, activated)
	}
	return title, message
}

// FormatWizardsExpired formats a TTL sweep message.
func FormatWizardsExpired(n int) (title, message string) {
	title = "⌛ Wizards expired"
	message = fmt.Sprintf("%d unfinished wizard(s) were cancelled", n)
	return title, message
}
