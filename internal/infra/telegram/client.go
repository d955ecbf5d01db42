// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"

	"gopkg.in/telebot.v3"
)

// sender is the part of *telebot.Bot the adapter needs.
type sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot sender
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient. It gives up when
// ctx is done; the HTTP request underneath is bounded by the bot client's own timeout.
// After giving up the request keeps running in the background, so the message
// may still be delivered even though ctx.Err() is returned.
func (tba *TelebotAdapter) SendMessage(ctx context.Context, recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recipient := &telebot.User{ID: recipientChatID} // Private chat ID equals the user ID
	done := make(chan error, 1)
	go func() {
		_, err := tba.bot.Send(recipient, text, options)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send to %d: %w", recipientChatID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send to %d: %w", recipientChatID, ctx.Err())
	}
}
