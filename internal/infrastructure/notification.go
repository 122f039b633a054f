package infrastructure

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// NotificationService sends desktop notifications for download lifecycle events
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(message), escapeAppleScript(title))
		if n.config.Sound {
			script += ` sound name "default"`
		}
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyDownloadQueued sends notification when download is queued
func (n *NotificationService) NotifyDownloadQueued(url, platform string) {
	n.Send("Download Queued", fmt.Sprintf("Added to queue: %s", describeSource(url, platform)))
}

// NotifyDownloadStarted sends notification when download starts
func (n *NotificationService) NotifyDownloadStarted(url, platform string) {
	n.Send("Download Started", fmt.Sprintf("Processing: %s", describeSource(url, platform)))
}

// TransferCompleted notifies a finished download
func (n *NotificationService) TransferCompleted(req domain.DownloadRequest, outcome *domain.Outcome) {
	message := fmt.Sprintf("Success: %s", describeSource(req.SourceURL, domain.DetectPlatform(req.SourceURL, domain.DefaultPlatformRules())))
	if outcome != nil && outcome.FellBack {
		message += " via server"
	}
	n.Send("Download Completed", message)
}

// TransferFailed notifies a failed download
func (n *NotificationService) TransferFailed(req domain.DownloadRequest, err error) {
	message := fmt.Sprintf("Failed: %s", describeSource(req.SourceURL, domain.DetectPlatform(req.SourceURL, domain.DefaultPlatformRules())))
	if kind := domain.KindOf(err); kind != "" {
		message += fmt.Sprintf(" [%s]", kind)
	}
	n.Send("Download Failed", message)
}

// NotifyQueueEmpty sends notification when queue is empty
func (n *NotificationService) NotifyQueueEmpty() {
	n.Send("Queue Empty", "All downloads completed")
}

func describeSource(url, platform string) string {
	if platform == "" {
		return truncateString(url, 30)
	}
	return fmt.Sprintf("%s (%s)", truncateString(url, 30), platform)
}

func escapeAppleScript(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return truncateRunes(s, maxLen) + "..."
}
