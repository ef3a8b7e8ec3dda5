// ABOUTME: Client-facing handlers: menu, key listing, requests, forwarding
// ABOUTME: Every entry point refuses blocked users before doing anything else

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v3"

	"vpnbot/internal/store"
)

// handleStart registers the user and shows the main menu
func (b *Bot) handleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()

	if err := b.store.SaveUser(ctx, &store.User{
		ID:        sender.ID,
		Username:  sender.Username,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
	}); err != nil {
		return err
	}

	blocked, err := b.store.IsBlocked(ctx, sender.ID)
	if err != nil {
		return err
	}
	if blocked {
		return c.Send(blockedText)
	}

	return c.Send(welcomeText, mainMenuKeyboard(), tele.ModeHTML)
}

func (b *Bot) handleHelp(c tele.Context) error {
	text := helpText
	if b.isAdmin(c) {
		text += "\n" + adminHelpText
	}
	return c.Send(text, tele.ModeHTML)
}

// handleStatus reports the user's block state, keys, and open requests
func (b *Bot) handleStatus(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()

	blocked, err := b.store.IsBlocked(ctx, sender.ID)
	if err != nil {
		return err
	}
	if blocked {
		user, err := b.store.GetUser(ctx, sender.ID)
		if err != nil {
			return err
		}
		remaining := time.Until(user.BlockedUntil).Round(time.Minute)
		return c.Send(fmt.Sprintf("🚫 Blocked for another %s.", remaining))
	}

	keys, err := b.store.ListKeysByUser(ctx, sender.ID)
	if err != nil {
		return err
	}
	requests, err := b.store.ListRequestsByUser(ctx, sender.ID)
	if err != nil {
		return err
	}

	return c.Send(fmt.Sprintf("Keys: %d\nPending requests: %d", len(keys), len(requests)))
}

func (b *Bot) handleID(c tele.Context) error {
	return c.Send(fmt.Sprintf("Your ID: <code>%d</code>", c.Sender().ID), tele.ModeHTML)
}

func (b *Bot) cbMainMenu(c tele.Context) error {
	if err := c.Edit(welcomeText, mainMenuKeyboard(), tele.ModeHTML); err != nil {
		return err
	}
	return c.Respond()
}

// cbGetKeys lists the user's keys with live panel stats and links
func (b *Bot) cbGetKeys(c tele.Context) error {
	ctx := context.Background()

	keys, err := b.store.ListKeysByUser(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		if err := c.Edit("You have no keys yet. Request one from the menu.", backToMenuKeyboard()); err != nil {
			return err
		}
		return c.Respond()
	}

	for _, key := range keys {
		text := b.renderKey(ctx, key)
		if err := c.Send(text, keyActionsKeyboard(key.Email), tele.ModeHTML); err != nil {
			return err
		}
	}
	return c.Respond()
}

// renderKey builds one key card, degrading gracefully when the panel is
// unreachable or the client has been removed from it
func (b *Bot) renderKey(ctx context.Context, key *store.Key) string {
	client, inbound, err := b.panel.FindClientByEmail(ctx, key.Email)
	if err != nil {
		b.logger.Warn("panel lookup failed", "email", key.Email, "error", err)
		return keyCard(key, nil, "") + "\n⚠️ Panel temporarily unavailable."
	}
	if client == nil {
		return keyCard(key, nil, "") + "\n⚠️ Key no longer exists on the server."
	}

	stat, err := b.panel.ClientStats(ctx, key.Email)
	if err != nil {
		b.logger.Warn("panel stats failed", "email", key.Email, "error", err)
		stat = nil
	}

	link, err := b.links.VLESSLink(inbound, client)
	if err != nil {
		b.logger.Warn("link build failed", "email", key.Email, "error", err)
		link = ""
	}
	return keyCard(key, stat, link)
}

// cbRequestKey files a pending request and notifies the admin
func (b *Bot) cbRequestKey(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()

	blocked, err := b.store.IsBlocked(ctx, sender.ID)
	if err != nil {
		return err
	}
	if blocked {
		return c.Respond(&tele.CallbackResponse{Text: blockedText, ShowAlert: true})
	}

	existing, err := b.store.ListRequestsByUser(ctx, sender.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return c.Respond(&tele.CallbackResponse{Text: requestDuplicateText, ShowAlert: true})
	}

	req := &store.Request{
		ID:        uuid.NewString(),
		UserID:    sender.ID,
		Username:  sender.Username,
		FirstName: sender.FirstName,
		LastName:  sender.LastName,
	}
	if err := b.store.CreateRequest(ctx, req); err != nil {
		return err
	}

	if err := b.notifyAdmin(requestCard(req), requestActionsKeyboard(req.ID), tele.ModeHTML); err != nil {
		b.logger.Error("notifying admin failed", "request", req.ID, "error", err)
	}

	if err := c.Edit(requestCreatedText, backToMenuKeyboard()); err != nil {
		return err
	}
	return c.Respond()
}

func (b *Bot) cbQR(c tele.Context) error {
	return c.Respond(&tele.CallbackResponse{
		Text:      "QR codes are not available yet. Copy the link instead.",
		ShowAlert: true,
	})
}

// cbKeyStats shows detailed live traffic for one key
func (b *Bot) cbKeyStats(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 1 {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	email := args[0]

	keys, err := b.store.ListKeysByUser(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	owned := false
	for _, key := range keys {
		if key.Email == email {
			owned = true
			break
		}
	}
	if !owned && !b.isAdmin(c) {
		return c.Respond(&tele.CallbackResponse{Text: "Not your key."})
	}

	stat, err := b.panel.ClientStats(ctx, email)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{
			Text:      "Panel temporarily unavailable.",
			ShowAlert: true,
		})
	}

	if err := c.Edit(statsCard(stat), keyActionsKeyboard(email), tele.ModeHTML); err != nil {
		return err
	}
	return c.Respond()
}

// handleText routes free text: admin replies and question follow-ups go
// back to users, user text is forwarded to the admin. Underscore-style
// commands like /unban_123 land here too.
func (b *Bot) handleText(c tele.Context) error {
	if b.isAdmin(c) {
		return b.handleAdminText(c)
	}

	ctx := context.Background()
	sender := c.Sender()
	text := c.Text()

	if strings.HasPrefix(text, "/") {
		return c.Send("Unknown command. Try /help.")
	}

	blocked, err := b.store.IsBlocked(ctx, sender.ID)
	if err != nil {
		return err
	}
	if blocked {
		return c.Send(blockedText)
	}

	card := forwardCard(sender.Username, sender.FirstName, sender.ID, text)
	if err := b.notifyAdmin(card, tele.ModeHTML); err != nil {
		b.logger.Error("forwarding to admin failed", "user", sender.ID, "error", err)
		return c.Send("Could not deliver your message. Try again later.")
	}
	return c.Send("✅ Sent to the administrator.")
}

// handleAdminText covers the admin's reply relay, the ask follow-up,
// and /unban_<id>
func (b *Bot) handleAdminText(c tele.Context) error {
	ctx := context.Background()
	text := c.Text()

	if id, ok := strings.CutPrefix(text, "/unban_"); ok {
		return b.unbanByArg(c, strings.TrimSpace(id))
	}

	// Reply to a forwarded card: relay to the user whose ID the card carries
	if reply := c.Message().ReplyTo; reply != nil {
		userID, ok := parseForwardedUserID(reply.Text)
		if !ok {
			return c.Send("Could not find a user ID in the replied message.")
		}
		msg := "💬 Reply from the administrator:\n\n" + text
		if err := b.Notify(userID, msg); err != nil {
			return c.Send(fmt.Sprintf("Delivery failed: %v", err))
		}
		return c.Send("✅ Delivered.")
	}

	// Ask follow-up: the admin pressed "Ask a question" on a request
	if requestID := b.takeAwaitingAsk(); requestID != "" {
		req, err := b.store.GetRequest(ctx, requestID)
		if errors.Is(err, store.ErrNotFound) {
			return c.Send("That request no longer exists.")
		}
		if err != nil {
			return err
		}

		msg := "💬 The administrator has a question about your key request:\n\n" + text
		if err := b.Notify(req.UserID, msg); err != nil {
			return c.Send(fmt.Sprintf("Delivery failed: %v", err))
		}
		// Request stays pending; restore its card
		return c.Send(requestCard(req), requestActionsKeyboard(req.ID), tele.ModeHTML)
	}

	return nil
}

// parseForwardedUserID extracts the sender ID from a forwarded card.
// Matches the "ID:" line forwardCard writes; the ID may arrive bare or
// still wrapped in <code> tags depending on how the message was quoted.
func parseForwardedUserID(text string) (int64, bool) {
	for _, line := range strings.Split(text, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "ID:")
		if !ok {
			continue
		}
		start := strings.IndexFunc(rest, func(r rune) bool { return r >= '0' && r <= '9' })
		if start < 0 {
			continue
		}
		end := start
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		id, err := strconv.ParseInt(rest[start:end], 10, 64)
		if err == nil && id != 0 {
			return id, true
		}
	}
	return 0, false
}
