// ABOUTME: Admin handlers: request processing, key management, bans
// ABOUTME: All handlers here run behind the adminOnly middleware

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"vpnbot/internal/store"
)

// banDuration is how long "reject + ban" blocks the requester
const banDuration = 24 * time.Hour

// defaultQuotaGB is the traffic quota for newly created keys; 0 means
// unlimited
const defaultQuotaGB = 0

// cbAccept starts the new-key flow: pick an inbound to host the client
func (b *Bot) cbAccept(c tele.Context) error {
	ctx := context.Background()
	requestID, ok := requestIDArg(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	inbounds, err := b.panel.Inbounds(ctx)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Panel unavailable.", ShowAlert: true})
	}
	if len(inbounds) == 0 {
		return c.Respond(&tele.CallbackResponse{Text: "No inbounds on the panel.", ShowAlert: true})
	}

	if err := c.Edit("Choose an inbound for the new key:",
		inboundKeyboard(btnAcceptInbound, requestID, inbounds)); err != nil {
		return err
	}
	return c.Respond()
}

// cbAcceptInbound creates the panel client, binds it, and notifies the user
func (b *Bot) cbAcceptInbound(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	requestID := args[0]
	inboundID, err := strconv.Atoi(args[1])
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	req, err := b.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return b.staleRequest(c)
	}
	if err != nil {
		return err
	}

	email := clientEmail(req)
	client, err := b.panel.CreateClient(ctx, inboundID, email, defaultQuotaGB, time.Time{})
	if err != nil {
		b.logger.Error("creating panel client failed", "email", email, "error", err)
		return c.Respond(&tele.CallbackResponse{Text: "Panel refused the client.", ShowAlert: true})
	}

	if err := b.bindAndDeliver(ctx, req, inboundID, client.Email); err != nil {
		return err
	}

	if err := c.Edit(fmt.Sprintf("✅ Key <b>%s</b> created and delivered to %s.",
		email, userDisplay(req.Username, req.FirstName, req.UserID)), tele.ModeHTML); err != nil {
		return err
	}
	return c.Respond()
}

// cbAssign starts the assign-existing flow: pick the inbound first
func (b *Bot) cbAssign(c tele.Context) error {
	ctx := context.Background()
	requestID, ok := requestIDArg(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	inbounds, err := b.panel.Inbounds(ctx)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Panel unavailable.", ShowAlert: true})
	}

	if err := c.Edit("Choose the inbound hosting the key:",
		inboundKeyboard(btnAssignInbound, requestID, inbounds)); err != nil {
		return err
	}
	return c.Respond()
}

// cbAssignInbound lists the inbound's clients, paged
func (b *Bot) cbAssignInbound(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	requestID := args[0]
	inboundID, err := strconv.Atoi(args[1])
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	page := 0
	if len(args) >= 3 {
		page, _ = strconv.Atoi(args[2])
	}

	clients, err := b.panel.ClientsByInbound(ctx, inboundID)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Panel unavailable.", ShowAlert: true})
	}
	if len(clients) == 0 {
		return c.Respond(&tele.CallbackResponse{Text: "No clients on that inbound.", ShowAlert: true})
	}

	// Page comes from callback data, which a client can forge
	maxPage := (len(clients) - 1) / clientsPerPage
	if page < 0 {
		page = 0
	} else if page > maxPage {
		page = maxPage
	}

	if err := c.Edit("Choose a key to assign:",
		clientsKeyboard(requestID, inboundID, clients, page)); err != nil {
		return err
	}
	return c.Respond()
}

// cbAssignClient binds an existing panel client to the requester
func (b *Bot) cbAssignClient(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	requestID, email := args[0], args[1]

	req, err := b.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return b.staleRequest(c)
	}
	if err != nil {
		return err
	}

	client, inbound, err := b.panel.FindClientByEmail(ctx, email)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Panel unavailable.", ShowAlert: true})
	}
	if client == nil {
		return c.Respond(&tele.CallbackResponse{Text: "Key no longer exists.", ShowAlert: true})
	}

	if err := b.bindAndDeliver(ctx, req, inbound.ID, email); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return c.Respond(&tele.CallbackResponse{
				Text: "User already holds that key.", ShowAlert: true})
		}
		return err
	}

	if err := c.Edit(fmt.Sprintf("✅ Key <b>%s</b> assigned to %s.",
		email, userDisplay(req.Username, req.FirstName, req.UserID)), tele.ModeHTML); err != nil {
		return err
	}
	return c.Respond()
}

// bindAndDeliver stores the binding, resolves the connection link, sends
// it to the user, and closes out the request
func (b *Bot) bindAndDeliver(ctx context.Context, req *store.Request, inboundID int, email string) error {
	if err := b.store.AddKey(ctx, &store.Key{
		UserID:    req.UserID,
		Email:     email,
		InboundID: inboundID,
	}); err != nil {
		return err
	}

	link := ""
	client, inbound, err := b.panel.FindClientByEmail(ctx, email)
	if err == nil && client != nil {
		link, err = b.links.VLESSLink(inbound, client)
		if err != nil {
			b.logger.Warn("link build failed", "email", email, "error", err)
		}
	}

	card := keyIssuedCard(email, link, b.links.SubscriptionURL(email))
	if err := b.Notify(req.UserID, card, tele.ModeHTML); err != nil {
		b.logger.Error("delivering key failed", "user", req.UserID, "error", err)
	}

	if err := b.store.DeleteRequest(ctx, req.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// cbReject deletes the request and tells the user
func (b *Bot) cbReject(c tele.Context) error {
	ctx := context.Background()
	requestID, ok := requestIDArg(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	req, err := b.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return b.staleRequest(c)
	}
	if err != nil {
		return err
	}

	if err := b.store.DeleteRequest(ctx, requestID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := b.Notify(req.UserID, requestRejectedText); err != nil {
		b.logger.Error("notifying user failed", "user", req.UserID, "error", err)
	}

	if err := c.Edit("❌ Request rejected."); err != nil {
		return err
	}
	return c.Respond()
}

// cbDenied deletes the request and blocks the requester silently
func (b *Bot) cbDenied(c tele.Context) error {
	ctx := context.Background()
	requestID, ok := requestIDArg(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	req, err := b.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return b.staleRequest(c)
	}
	if err != nil {
		return err
	}

	if err := b.store.DeleteRequest(ctx, requestID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := b.store.BlockUser(ctx, req.UserID, banDuration); err != nil {
		return err
	}

	if err := c.Edit(fmt.Sprintf("🚫 Request denied, %s blocked for 24h.",
		userDisplay(req.Username, req.FirstName, req.UserID))); err != nil {
		return err
	}
	return c.Respond()
}

// cbAsk arms the ask flow: the admin's next text message goes to the requester
func (b *Bot) cbAsk(c tele.Context) error {
	ctx := context.Background()
	requestID, ok := requestIDArg(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	if _, err := b.store.GetRequest(ctx, requestID); errors.Is(err, store.ErrNotFound) {
		return b.staleRequest(c)
	} else if err != nil {
		return err
	}

	b.setAwaitingAsk(requestID)

	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data("⬅️ Cancel", btnBackToRequest.Unique, requestID)))
	if err := c.Edit("Type your question for the requester:", m); err != nil {
		return err
	}
	return c.Respond()
}

// cbBackToRequest restores the request card, canceling any armed ask
func (b *Bot) cbBackToRequest(c tele.Context) error {
	ctx := context.Background()
	requestID, ok := requestIDArg(c)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	b.takeAwaitingAsk()

	req, err := b.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return b.staleRequest(c)
	}
	if err != nil {
		return err
	}

	if err := c.Edit(requestCard(req), requestActionsKeyboard(req.ID), tele.ModeHTML); err != nil {
		return err
	}
	return c.Respond()
}

// cbUnbindUser removes one user's binding to a key; the panel client is
// only deleted when nobody else holds it
func (b *Bot) cbUnbindUser(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	email := args[1]

	if err := b.store.RemoveKey(ctx, userID, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Respond(&tele.CallbackResponse{Text: "Binding already gone."})
		}
		return err
	}

	holders, err := b.store.CountUsersByEmail(ctx, email)
	if err != nil {
		return err
	}
	note := ""
	if holders == 0 {
		if client, inbound, err := b.panel.FindClientByEmail(ctx, email); err == nil && client != nil {
			if err := b.panel.DeleteClient(ctx, inbound.ID, client.ID); err != nil {
				b.logger.Error("deleting panel client failed", "email", email, "error", err)
				note = " (panel deletion failed)"
			} else {
				note = " and removed from the panel"
			}
		}
	}

	if err := c.Edit(fmt.Sprintf("🔓 %s unbound from user %d%s.", email, userID, note)); err != nil {
		return err
	}
	return c.Respond()
}

// cbBanUser blocks a user from the /keys management keyboard
func (b *Bot) cbBanUser(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 1 {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Malformed request."})
	}

	if err := b.store.BlockUser(ctx, userID, banDuration); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Respond(&tele.CallbackResponse{Text: "Unknown user."})
		}
		return err
	}

	if err := c.Edit(fmt.Sprintf("🚫 User %d blocked for 24h.", userID)); err != nil {
		return err
	}
	return c.Respond()
}

// handleRequests lists pending requests, one card each
func (b *Bot) handleRequests(c tele.Context) error {
	ctx := context.Background()

	requests, err := b.store.ListRequests(ctx)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return c.Send("No pending requests.")
	}

	for _, req := range requests {
		if err := c.Send(requestCard(req), requestActionsKeyboard(req.ID), tele.ModeHTML); err != nil {
			return err
		}
	}
	return nil
}

// handleKeys lists every binding grouped by email with management actions
func (b *Bot) handleKeys(c tele.Context) error {
	ctx := context.Background()

	bindings, err := b.store.ListKeysWithUsers(ctx)
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		return c.Send("No keys bound yet.")
	}

	var sb strings.Builder
	sb.WriteString("🔑 <b>Key bindings</b>\n")
	lastEmail := ""
	for _, binding := range bindings {
		if binding.Email != lastEmail {
			fmt.Fprintf(&sb, "\n<b>%s</b> (inbound %d)\n", binding.Email, binding.InboundID)
			lastEmail = binding.Email
		}
		fmt.Fprintf(&sb, "  %s — <code>%d</code>\n", displayBinding(binding), binding.UserID)
	}

	return c.Send(sb.String(), keyManagementKeyboard(bindings), tele.ModeHTML)
}

// handleBans lists currently blocked users
func (b *Bot) handleBans(c tele.Context) error {
	ctx := context.Background()

	blocked, err := b.store.ListBlocked(ctx)
	if err != nil {
		return err
	}
	return c.Send(bansList(blocked, time.Now().UTC()), tele.ModeHTML)
}

// handleUnban covers the "/unban <id>" spelling; "/unban_<id>" arrives
// through handleText
func (b *Bot) handleUnban(c tele.Context) error {
	return b.unbanByArg(c, strings.TrimSpace(c.Message().Payload))
}

func (b *Bot) unbanByArg(c tele.Context, arg string) error {
	ctx := context.Background()

	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return c.Send("Usage: /unban_<id>")
	}

	if err := b.store.UnblockUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Send("Unknown user.")
		}
		return err
	}
	return c.Send(fmt.Sprintf("✅ User %d unblocked.", userID))
}

// requestIDArg pulls the request ID out of callback data
func requestIDArg(c tele.Context) (string, bool) {
	args := c.Args()
	if len(args) < 1 || args[0] == "" {
		return "", false
	}
	return args[0], true
}

// staleRequest answers a callback for a request someone already resolved
func (b *Bot) staleRequest(c tele.Context) error {
	if err := c.Edit("This request was already processed."); err != nil {
		return err
	}
	return c.Respond(&tele.CallbackResponse{Text: "Already processed."})
}

// clientEmail derives the panel email for a new key from the requester
func clientEmail(req *store.Request) string {
	if req.Username != "" {
		return fmt.Sprintf("tg_%d_%s", req.UserID, strings.ToLower(req.Username))
	}
	return fmt.Sprintf("tg_%d", req.UserID)
}
