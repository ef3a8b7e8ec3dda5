// ABOUTME: Message templates and formatting helpers for bot replies
// ABOUTME: HTML-mode cards for keys, requests, stats, and forwarded messages

package bot

import (
	"fmt"
	"strings"
	"time"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

const welcomeText = `👋 <b>Welcome!</b>

This bot manages your VPN access keys.

Use the buttons below to view your keys or request a new one.`

const helpText = `<b>Commands</b>

/start — main menu
/status — your keys and pending requests
/id — your Telegram ID
/help — this message

Anything else you type is forwarded to the administrator.`

const adminHelpText = `
<b>Admin commands</b>

/requests — pending key requests
/keys — all key bindings
/bans — blocked users
/unban_&lt;id&gt; — lift a block

Reply to a forwarded message to answer that user.`

const blockedText = `🚫 You are temporarily blocked. Try again later.`

const requestCreatedText = `✅ Your request has been sent to the administrator. You will be notified once it is processed.`

const requestDuplicateText = `⏳ You already have a pending request. Please wait for the administrator.`

const requestRejectedText = `❌ Your key request was declined by the administrator.`

const privacyWarningText = `⚠️ Keep your connection link private. Anyone who has it can use your key.`

const connectionInstructionsText = `<b>How to connect</b>

1. Install a client app: v2rayTun, Hiddify, or Streisand.
2. Copy the link above.
3. In the app choose "Import from clipboard".
4. Enable the connection.`

// userDisplay renders a user reference for admin-facing cards
func userDisplay(username, firstName string, id int64) string {
	switch {
	case username != "":
		return "@" + username
	case firstName != "":
		return firstName
	default:
		return fmt.Sprintf("id%d", id)
	}
}

// requestCard is the admin's view of one pending request
func requestCard(req *store.Request) string {
	var sb strings.Builder
	sb.WriteString("📨 <b>Key request</b>\n\n")
	fmt.Fprintf(&sb, "From: %s\n", userDisplay(req.Username, req.FirstName, req.UserID))
	if req.FirstName != "" || req.LastName != "" {
		fmt.Fprintf(&sb, "Name: %s\n", strings.TrimSpace(req.FirstName+" "+req.LastName))
	}
	fmt.Fprintf(&sb, "ID: <code>%d</code>\n", req.UserID)
	fmt.Fprintf(&sb, "Requested: %s", req.CreatedAt.Format("2006-01-02 15:04"))
	return sb.String()
}

// forwardCard wraps a user's free-text message for the admin. The ID
// line is what the reply relay parses the target out of, so its format
// is load-bearing.
func forwardCard(username, firstName string, id int64, text string) string {
	return fmt.Sprintf("✉️ Message from %s\nID: <code>%d</code>\n\n%s",
		userDisplay(username, firstName, id), id, text)
}

// keyCard renders one key with live stats in the client's key list
func keyCard(key *store.Key, stat *xui.ClientStat, link string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔑 <b>%s</b>\n", key.Email)
	if stat != nil {
		fmt.Fprintf(&sb, "↑ %s  ↓ %s\n", xui.FormatBytes(stat.Up), xui.FormatBytes(stat.Down))
		if stat.Total > 0 {
			fmt.Fprintf(&sb, "Quota: %s of %s\n",
				xui.FormatBytes(stat.AllTime()), xui.FormatBytes(stat.Total))
		}
		if !stat.Enable {
			sb.WriteString("⛔ Disabled\n")
		}
	}
	if link != "" {
		fmt.Fprintf(&sb, "\n<code>%s</code>\n", link)
	}
	return sb.String()
}

// statsCard is the detailed per-key traffic view
func statsCard(stat *xui.ClientStat) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>%s</b>\n\n", stat.Email)
	fmt.Fprintf(&sb, "Uploaded: %s\n", xui.FormatBytes(stat.Up))
	fmt.Fprintf(&sb, "Downloaded: %s\n", xui.FormatBytes(stat.Down))
	fmt.Fprintf(&sb, "Total: %s\n", xui.FormatBytes(stat.AllTime()))
	if stat.Total > 0 {
		fmt.Fprintf(&sb, "Quota: %s\n", xui.FormatBytes(stat.Total))
	}
	if stat.ExpiryAt > 0 {
		expiry := time.UnixMilli(stat.ExpiryAt)
		fmt.Fprintf(&sb, "Expires: %s\n", expiry.Format("2006-01-02"))
	}
	status := "✅ Active"
	if !stat.Enable {
		status = "⛔ Disabled"
	}
	sb.WriteString(status)
	return sb.String()
}

// keyIssuedCard is what the user receives when a key is granted
func keyIssuedCard(email, link, subscription string) string {
	var sb strings.Builder
	sb.WriteString("🎉 <b>Your VPN key is ready!</b>\n\n")
	fmt.Fprintf(&sb, "Key: <b>%s</b>\n\n", email)
	fmt.Fprintf(&sb, "<code>%s</code>\n", link)
	if subscription != "" {
		fmt.Fprintf(&sb, "\nSubscription: %s\n", subscription)
	}
	sb.WriteString("\n" + connectionInstructionsText)
	sb.WriteString("\n\n" + privacyWarningText)
	return sb.String()
}

// bansList renders /bans output
func bansList(users []*store.User, now time.Time) string {
	if len(users) == 0 {
		return "No blocked users."
	}
	var sb strings.Builder
	sb.WriteString("🚫 <b>Blocked users</b>\n\n")
	for _, u := range users {
		remaining := u.BlockedUntil.Sub(now).Round(time.Minute)
		fmt.Fprintf(&sb, "%s — %s left — /unban_%d\n",
			userDisplay(u.Username, u.FirstName, u.ID), remaining, u.ID)
	}
	return sb.String()
}
