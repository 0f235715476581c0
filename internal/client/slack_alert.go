package client

import (
	"context"
	"fmt"
	"time"
)

const colorLocked = "#dc3545"

// NotifyAccountLocked reports a lock triggered by repeated failed logins.
// Without a token and channel the call does nothing.
func (c *SlackClient) NotifyAccountLocked(ctx context.Context, email string, lockUntil time.Time) error {
	if !c.IsConfigured() {
		return nil
	}

	msg := SlackMessage{
		Channel: c.channelID,
		Attachments: []SlackAttachment{
			{
				Color: colorLocked,
				Title: ":lock: Account locked after repeated failed logins",
				Text:  fmt.Sprintf("Sign-in for %s is blocked until the lock expires or an admin unlocks it.", email),
				Fields: []SlackField{
					{Title: "Account", Value: email, Short: true},
					{Title: "Locked until", Value: lockUntil.UTC().Format(time.RFC3339), Short: true},
				},
				Footer: "foliodesk",
				Ts:     time.Now().Unix(),
			},
		},
	}

	_, err := c.send(ctx, msg)
	return err
}
