// ABOUTME: Inline keyboard definitions for client and admin flows
// ABOUTME: Callback buttons carry request IDs and panel coordinates in their data

package bot

import (
	"fmt"

	tele "gopkg.in/telebot.v3"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

// clientsPerPage bounds the assign-client keyboard height
const clientsPerPage = 8

// Callback button identities. Handlers are registered on the Unique
// value; per-message data rides alongside it.
var (
	btnMainMenu   = tele.Btn{Unique: "main_menu"}
	btnGetKeys    = tele.Btn{Unique: "get_keys"}
	btnRequestKey = tele.Btn{Unique: "request_key"}
	btnQR         = tele.Btn{Unique: "qr"}
	btnKeyStats   = tele.Btn{Unique: "key_stats"}

	btnAccept        = tele.Btn{Unique: "accept"}
	btnAcceptInbound = tele.Btn{Unique: "accept_inbound"}
	btnAssign        = tele.Btn{Unique: "assign"}
	btnAssignInbound = tele.Btn{Unique: "assign_inbound"}
	btnAssignClient  = tele.Btn{Unique: "assign_client"}
	btnReject        = tele.Btn{Unique: "reject"}
	btnDenied        = tele.Btn{Unique: "denied"}
	btnAsk           = tele.Btn{Unique: "ask"}
	btnBackToRequest = tele.Btn{Unique: "back_to_request"}
	btnUnbindUser    = tele.Btn{Unique: "unbind_user"}
	btnBanUser       = tele.Btn{Unique: "ban_user"}
)

// mainMenuKeyboard is the client entry point shown on /start
func mainMenuKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("🔑 My keys", btnGetKeys.Unique)),
		m.Row(m.Data("➕ Request a key", btnRequestKey.Unique)),
	)
	return m
}

// backToMenuKeyboard returns to the main menu from any client screen
func backToMenuKeyboard() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data("⬅️ Menu", btnMainMenu.Unique)))
	return m
}

// keyActionsKeyboard offers per-key actions in the key listing
func keyActionsKeyboard(email string) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(
			m.Data("📊 Stats", btnKeyStats.Unique, email),
			m.Data("📱 QR", btnQR.Unique, email),
		),
		m.Row(m.Data("⬅️ Menu", btnMainMenu.Unique)),
	)
	return m
}

// requestActionsKeyboard is the admin's card for one pending request
func requestActionsKeyboard(requestID string) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(
			m.Data("✅ New key", btnAccept.Unique, requestID),
			m.Data("🔗 Assign existing", btnAssign.Unique, requestID),
		),
		m.Row(
			m.Data("❌ Reject", btnReject.Unique, requestID),
			m.Data("🚫 Reject + ban 24h", btnDenied.Unique, requestID),
		),
		m.Row(m.Data("💬 Ask a question", btnAsk.Unique, requestID)),
	)
	return m
}

// inboundKeyboard lists panel inbounds for accept or assign flows. The
// btn parameter decides which follow-up callback fires.
func inboundKeyboard(btn tele.Btn, requestID string, inbounds []*xui.Inbound) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, inbound := range inbounds {
		if !inbound.Enable {
			continue
		}
		label := fmt.Sprintf("%s (port %d, %d clients)",
			inbound.Remark, inbound.Port, len(inbound.ClientStats))
		rows = append(rows, m.Row(
			m.Data(label, btn.Unique, requestID, fmt.Sprint(inbound.ID)),
		))
	}
	rows = append(rows, m.Row(m.Data("⬅️ Back", btnBackToRequest.Unique, requestID)))
	m.Inline(rows...)
	return m
}

// clientsKeyboard pages through an inbound's clients for the assign flow
func clientsKeyboard(requestID string, inboundID int, clients []*xui.InboundClient, page int) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}

	start := page * clientsPerPage
	end := min(start+clientsPerPage, len(clients))

	var rows []tele.Row
	for _, client := range clients[start:end] {
		rows = append(rows, m.Row(
			m.Data(client.Email, btnAssignClient.Unique, requestID, client.Email),
		))
	}

	var nav []tele.Btn
	if page > 0 {
		nav = append(nav, m.Data("⬅️", btnAssignInbound.Unique,
			requestID, fmt.Sprint(inboundID), fmt.Sprint(page-1)))
	}
	if end < len(clients) {
		nav = append(nav, m.Data("➡️", btnAssignInbound.Unique,
			requestID, fmt.Sprint(inboundID), fmt.Sprint(page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, m.Row(nav...))
	}

	rows = append(rows, m.Row(m.Data("⬅️ Back", btnBackToRequest.Unique, requestID)))
	m.Inline(rows...)
	return m
}

// keyManagementKeyboard offers unbind/ban actions per binding in /keys
func keyManagementKeyboard(bindings []*store.KeyBinding) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, binding := range bindings {
		label := fmt.Sprintf("🔓 Unbind %s from %s", binding.Email, displayBinding(binding))
		rows = append(rows,
			m.Row(m.Data(label, btnUnbindUser.Unique,
				fmt.Sprint(binding.UserID), binding.Email)),
			m.Row(m.Data(fmt.Sprintf("🚫 Ban %s", displayBinding(binding)),
				btnBanUser.Unique, fmt.Sprint(binding.UserID))),
		)
	}
	m.Inline(rows...)
	return m
}

func displayBinding(b *store.KeyBinding) string {
	if b.Username != "" {
		return "@" + b.Username
	}
	if b.FirstName != "" {
		return b.FirstName
	}
	return fmt.Sprint(b.UserID)
}
