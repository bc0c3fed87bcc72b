// Package notify sends operator alerts through Pushover. With no token or
// recipient configured every call is a no-op, so the agent runs fine
// without an account.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/gregdel/pushover"
)

// Notifier delivers low-volume operator alerts.
type Notifier struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

// New builds a Notifier. An empty token or recipient disables delivery.
func New(token, recipient string) *Notifier {
	if token == "" || recipient == "" {
		return &Notifier{}
	}
	return &Notifier{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(recipient),
	}
}

// Enabled reports whether alerts will actually be sent.
func (n *Notifier) Enabled() bool { return n.app != nil }

// DetectionExhausted alerts that a tab gave up re-detecting its media.
// Sends block on the Pushover API; call from a goroutine.
func (n *Notifier) DetectionExhausted(tabID, url string, attempts int) {
	n.send(&pushover.Message{
		Title:   "vidmark: detection gave up",
		Message: fmt.Sprintf("Tab %s stopped re-detecting after %d attempts.", tabID, attempts),
		URL:     url,
	})
}

func (n *Notifier) send(msg *pushover.Message) {
	if n.app == nil {
		return
	}
	if _, err := n.app.SendMessage(msg, n.recipient); err != nil {
		slog.Warn("notify pushover send failed", "error", err)
	}
}
