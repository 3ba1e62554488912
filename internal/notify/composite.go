package notify

import (
	"context"
	"fmt"
	"strings"
)

// CompositeNotifier delivers every notification through several notifiers.
type CompositeNotifier struct {
	notifiers []Notifier
}

// NewCompositeNotifier returns the concrete type so AddNotifier can be called.
func NewCompositeNotifier(notifiers ...Notifier) *CompositeNotifier {
	return &CompositeNotifier{notifiers: notifiers}
}

// AddNotifier adds a notifier to the list.
func (c *CompositeNotifier) AddNotifier(n Notifier) {
	if n != nil {
		c.notifiers = append(c.notifiers, n)
	}
}

// Notify calls every notifier and collects their errors into one.
func (c *CompositeNotifier) Notify(ctx context.Context, n Notification) error {
	if len(c.notifiers) == 0 {
		return fmt.Errorf("no notifiers configured in CompositeNotifier")
	}
	n.Stamp()

	var allErrors []string
	for _, notifier := range c.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			allErrors = append(allErrors, err.Error())
		}
	}
	if len(allErrors) > 0 {
		return fmt.Errorf("composite notify failed: [ %s ]", strings.Join(allErrors, "; "))
	}
	return nil
}
