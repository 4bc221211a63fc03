// Package notification provides cross-platform desktop notifications.
// It uses the beeep library, which handles macOS, Linux, and Windows.
package notification

import (
	"github.com/gen2brain/beeep"

	"github.com/loomdev/loom/internal/logger"
)

// Send sends a desktop notification with the given title and message.
func Send(title, message string) error {
	logger.Debug("Notification: sending title=%q message=%q", title, message)
	err := beeep.Notify(title, message, "")
	if err != nil {
		logger.Warn("Notification: failed to send: %v", err)
	}
	return err
}

// SessionReady notifies that an agent has finished and the session awaits
// review.
func SessionReady(sessionTitle string) error {
	if sessionTitle == "" {
		sessionTitle = "Session"
	}
	return Send("Loom", sessionTitle+" is ready for review")
}

// PRMerged notifies that a session's pull request was merged remotely.
func PRMerged(sessionTitle string) error {
	if sessionTitle == "" {
		sessionTitle = "Session"
	}
	return Send("Loom", sessionTitle+" was merged")
}
