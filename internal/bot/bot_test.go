package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

const testAdminID int64 = 999

// mockContext fakes the slice of tele.Context handlers touch
type mockContext struct {
	tele.Context
	sender   *tele.User
	text     string
	args     []string
	replyTo  *tele.Message
	callback *tele.Callback

	sent      []interface{}
	edited    []interface{}
	responses []*tele.CallbackResponse
	responded bool
}

func (m *mockContext) Sender() *tele.User { return m.sender }

func (m *mockContext) Message() *tele.Message {
	return &tele.Message{Sender: m.sender, Text: m.text, ReplyTo: m.replyTo, Payload: payloadOf(m.text)}
}

func (m *mockContext) Callback() *tele.Callback { return m.callback }
func (m *mockContext) Text() string             { return m.text }
func (m *mockContext) Args() []string           { return m.args }

func (m *mockContext) Send(what interface{}, opts ...interface{}) error {
	m.sent = append(m.sent, what)
	return nil
}

func (m *mockContext) Edit(what interface{}, opts ...interface{}) error {
	m.edited = append(m.edited, what)
	return nil
}

func (m *mockContext) Respond(resp ...*tele.CallbackResponse) error {
	m.responded = true
	m.responses = append(m.responses, resp...)
	return nil
}

// payloadOf mimics telebot's command payload split
func payloadOf(text string) string {
	if len(text) == 0 || text[0] != '/' {
		return ""
	}
	for i, r := range text {
		if r == ' ' {
			return text[i+1:]
		}
	}
	return ""
}

func (m *mockContext) lastSent() string {
	if len(m.sent) == 0 {
		return ""
	}
	s, _ := m.sent[len(m.sent)-1].(string)
	return s
}

func (m *mockContext) lastEdited() string {
	if len(m.edited) == 0 {
		return ""
	}
	s, _ := m.edited[len(m.edited)-1].(string)
	return s
}

func (m *mockContext) lastResponse() *tele.CallbackResponse {
	if len(m.responses) == 0 {
		return nil
	}
	return m.responses[len(m.responses)-1]
}

// fakeSender records out-of-band sends keyed by recipient
type fakeSender struct {
	sent []sentMessage
	err  error
}

type sentMessage struct {
	to   string
	text string
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	text, _ := what.(string)
	f.sent = append(f.sent, sentMessage{to: to.Recipient(), text: text})
	return &tele.Message{}, nil
}

func (f *fakeSender) sentTo(id int64) []string {
	var out []string
	for _, m := range f.sent {
		if m.to == fmt.Sprint(id) {
			out = append(out, m.text)
		}
	}
	return out
}

// fakePanel implements Panel in memory
type fakePanel struct {
	inbounds []*xui.Inbound
	clients  map[int][]*xui.InboundClient
	stats    map[string]*xui.ClientStat

	created []string // emails of created clients
	deleted []string // IDs of deleted clients
	err     error
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		clients: make(map[int][]*xui.InboundClient),
		stats:   make(map[string]*xui.ClientStat),
	}
}

func (f *fakePanel) Inbounds(ctx context.Context) ([]*xui.Inbound, error) {
	return f.inbounds, f.err
}

func (f *fakePanel) Inbound(ctx context.Context, id int) (*xui.Inbound, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, inbound := range f.inbounds {
		if inbound.ID == id {
			return inbound, nil
		}
	}
	return nil, fmt.Errorf("no inbound %d", id)
}

func (f *fakePanel) ClientsByInbound(ctx context.Context, inboundID int) ([]*xui.InboundClient, error) {
	return f.clients[inboundID], f.err
}

func (f *fakePanel) FindClientByEmail(ctx context.Context, email string) (*xui.InboundClient, *xui.Inbound, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	for _, inbound := range f.inbounds {
		for _, client := range f.clients[inbound.ID] {
			if client.Email == email {
				return client, inbound, nil
			}
		}
	}
	return nil, nil, nil
}

func (f *fakePanel) CreateClient(ctx context.Context, inboundID int, email string, totalGB int64, expiry time.Time) (*xui.InboundClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	client := &xui.InboundClient{ID: "id-" + email, Email: email, Enable: true}
	f.clients[inboundID] = append(f.clients[inboundID], client)
	f.created = append(f.created, email)
	return client, nil
}

func (f *fakePanel) DeleteClient(ctx context.Context, inboundID int, clientID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, clientID)
	return nil
}

func (f *fakePanel) ClientStats(ctx context.Context, email string) (*xui.ClientStat, error) {
	if f.err != nil {
		return nil, f.err
	}
	if stat, ok := f.stats[email]; ok {
		return stat, nil
	}
	return &xui.ClientStat{Email: email}, nil
}

// setupTestBot wires a Bot against a real temp-file store and fakes for
// everything network-facing. The telebot API itself is never touched.
func setupTestBot(t *testing.T) (*Bot, *fakePanel, *fakeSender) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	panel := newFakePanel()
	sender := &fakeSender{}

	b := &Bot{
		send:   sender,
		store:  st,
		panel:  panel,
		links:  &xui.LinkBuilder{Domain: "vpn.test", SubscriptionPort: 2096},
		cfg:    Config{AdminID: testAdminID},
		logger: slog.Default(),
	}
	return b, panel, sender
}

func userCtx(id int64, username string) *mockContext {
	return &mockContext{sender: &tele.User{ID: id, Username: username, FirstName: "First"}}
}

func adminCtx() *mockContext {
	return &mockContext{sender: &tele.User{ID: testAdminID, Username: "admin"}}
}

func TestHandleStart(t *testing.T) {
	b, _, _ := setupTestBot(t)
	ctx := userCtx(42, "alice")

	require.NoError(t, b.handleStart(ctx))
	assert.Contains(t, ctx.lastSent(), "Welcome")

	// User is persisted
	user, err := b.store.GetUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestHandleStart_Blocked(t *testing.T) {
	b, _, _ := setupTestBot(t)
	bg := context.Background()

	require.NoError(t, b.store.SaveUser(bg, &store.User{ID: 42}))
	require.NoError(t, b.store.BlockUser(bg, 42, time.Hour))

	ctx := userCtx(42, "alice")
	require.NoError(t, b.handleStart(ctx))
	assert.Contains(t, ctx.lastSent(), "blocked")
}

func TestHandleID(t *testing.T) {
	b, _, _ := setupTestBot(t)
	ctx := userCtx(42, "alice")

	require.NoError(t, b.handleID(ctx))
	assert.Contains(t, ctx.lastSent(), "42")
}

func TestHandleHelp_AdminSection(t *testing.T) {
	b, _, _ := setupTestBot(t)

	user := userCtx(42, "alice")
	require.NoError(t, b.handleHelp(user))
	assert.NotContains(t, user.lastSent(), "/requests")

	admin := adminCtx()
	require.NoError(t, b.handleHelp(admin))
	assert.Contains(t, admin.lastSent(), "/requests")
}

func TestHandleStatus(t *testing.T) {
	b, _, _ := setupTestBot(t)
	bg := context.Background()

	require.NoError(t, b.store.SaveUser(bg, &store.User{ID: 42}))
	require.NoError(t, b.store.AddKey(bg, &store.Key{UserID: 42, Email: "k", InboundID: 1}))
	require.NoError(t, b.store.CreateRequest(bg, &store.Request{ID: "r", UserID: 42}))

	ctx := userCtx(42, "alice")
	require.NoError(t, b.handleStatus(ctx))
	assert.Contains(t, ctx.lastSent(), "Keys: 1")
	assert.Contains(t, ctx.lastSent(), "Pending requests: 1")
}

func TestRequestKey(t *testing.T) {
	b, _, sender := setupTestBot(t)
	ctx := userCtx(42, "alice")

	require.NoError(t, b.cbRequestKey(ctx))

	// Request persisted
	reqs, err := b.store.ListRequestsByUser(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "alice", reqs[0].Username)

	// Admin notified with the request card
	adminMsgs := sender.sentTo(testAdminID)
	require.Len(t, adminMsgs, 1)
	assert.Contains(t, adminMsgs[0], "Key request")
	assert.Contains(t, adminMsgs[0], "@alice")

	// User sees the confirmation
	assert.Contains(t, ctx.lastEdited(), "sent to the administrator")
}

func TestRequestKey_Duplicate(t *testing.T) {
	b, _, sender := setupTestBot(t)

	require.NoError(t, b.cbRequestKey(userCtx(42, "alice")))

	ctx := userCtx(42, "alice")
	require.NoError(t, b.cbRequestKey(ctx))

	resp := ctx.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Text, "pending request")

	// Admin only heard about the first one
	assert.Len(t, sender.sentTo(testAdminID), 1)

	reqs, err := b.store.ListRequestsByUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestRequestKey_Blocked(t *testing.T) {
	b, _, sender := setupTestBot(t)
	bg := context.Background()

	require.NoError(t, b.store.SaveUser(bg, &store.User{ID: 42}))
	require.NoError(t, b.store.BlockUser(bg, 42, time.Hour))

	ctx := userCtx(42, "alice")
	require.NoError(t, b.cbRequestKey(ctx))

	resp := ctx.lastResponse()
	require.NotNil(t, resp)
	assert.True(t, resp.ShowAlert)
	assert.Empty(t, sender.sent)
}

func TestGetKeys_Empty(t *testing.T) {
	b, _, _ := setupTestBot(t)
	ctx := userCtx(42, "alice")

	require.NoError(t, b.cbGetKeys(ctx))
	assert.Contains(t, ctx.lastEdited(), "no keys")
}

func TestGetKeys_WithLink(t *testing.T) {
	b, panel, _ := setupTestBot(t)
	bg := context.Background()

	panel.inbounds = []*xui.Inbound{{ID: 1, Remark: "main", Port: 443}}
	panel.clients[1] = []*xui.InboundClient{{ID: "uuid-1", Email: "tg_42_alice"}}
	panel.stats["tg_42_alice"] = &xui.ClientStat{Email: "tg_42_alice", Up: 10, Down: 20}

	require.NoError(t, b.store.SaveUser(bg, &store.User{ID: 42}))
	require.NoError(t, b.store.AddKey(bg, &store.Key{UserID: 42, Email: "tg_42_alice", InboundID: 1}))

	ctx := userCtx(42, "alice")
	require.NoError(t, b.cbGetKeys(ctx))

	require.Len(t, ctx.sent, 1)
	card := ctx.lastSent()
	assert.Contains(t, card, "tg_42_alice")
	assert.Contains(t, card, "vless://uuid-1@vpn.test:443")
}

func TestGetKeys_PanelDown(t *testing.T) {
	b, panel, _ := setupTestBot(t)
	bg := context.Background()
	panel.err = fmt.Errorf("connection refused")

	require.NoError(t, b.store.SaveUser(bg, &store.User{ID: 42}))
	require.NoError(t, b.store.AddKey(bg, &store.Key{UserID: 42, Email: "k", InboundID: 1}))

	ctx := userCtx(42, "alice")
	require.NoError(t, b.cbGetKeys(ctx), "panel outage must not error the handler")
	assert.Contains(t, ctx.lastSent(), "unavailable")
}

func TestKeyStats_OwnershipEnforced(t *testing.T) {
	b, panel, _ := setupTestBot(t)
	panel.stats["not-yours"] = &xui.ClientStat{Email: "not-yours", Up: 1}

	ctx := userCtx(42, "alice")
	ctx.args = []string{"not-yours"}

	require.NoError(t, b.cbKeyStats(ctx))
	resp := ctx.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Text, "Not your key")
}

func TestHandleText_ForwardsToAdmin(t *testing.T) {
	b, _, sender := setupTestBot(t)

	ctx := userCtx(42, "alice")
	ctx.text = "hello, my key stopped working"
	require.NoError(t, b.handleText(ctx))

	adminMsgs := sender.sentTo(testAdminID)
	require.Len(t, adminMsgs, 1)
	assert.Contains(t, adminMsgs[0], "hello, my key stopped working")
	assert.Contains(t, adminMsgs[0], "ID: <code>42</code>")
	assert.Contains(t, ctx.lastSent(), "Sent to the administrator")
}

func TestHandleText_BlockedUserRefused(t *testing.T) {
	b, _, sender := setupTestBot(t)
	bg := context.Background()

	require.NoError(t, b.store.SaveUser(bg, &store.User{ID: 42}))
	require.NoError(t, b.store.BlockUser(bg, 42, time.Hour))

	ctx := userCtx(42, "alice")
	ctx.text = "let me in"
	require.NoError(t, b.handleText(ctx))

	assert.Empty(t, sender.sent)
	assert.Contains(t, ctx.lastSent(), "blocked")
}

func TestHandleText_AdminReplyRelay(t *testing.T) {
	b, _, sender := setupTestBot(t)

	ctx := adminCtx()
	ctx.text = "try restarting the app"
	ctx.replyTo = &tele.Message{Text: forwardCard("alice", "First", 42, "it broke")}

	require.NoError(t, b.handleText(ctx))

	userMsgs := sender.sentTo(42)
	require.Len(t, userMsgs, 1)
	assert.Contains(t, userMsgs[0], "try restarting the app")
	assert.Contains(t, ctx.lastSent(), "Delivered")
}

func TestParseForwardedUserID(t *testing.T) {
	id, ok := parseForwardedUserID(forwardCard("alice", "First", 42, "text"))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = parseForwardedUserID("no id here")
	assert.False(t, ok)
}

func TestDispatch_RecoversPanicAndContinues(t *testing.T) {
	b, _, _ := setupTestBot(t)

	// Same middleware the bot installs in register()
	var recovered error
	guard := middleware.Recover(func(err error, _ tele.Context) { recovered = err })

	exploding := guard(func(c tele.Context) error {
		panic("handler exploded")
	})
	require.NotPanics(t, func() { _ = exploding(userCtx(42, "alice")) })
	require.Error(t, recovered)
	assert.Contains(t, recovered.Error(), "handler exploded")

	// The next update still dispatches normally
	ctx := userCtx(42, "alice")
	require.NoError(t, b.handleStart(ctx))
	assert.Contains(t, ctx.lastSent(), "Welcome")
}

func TestDispatch_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	b, _, _ := setupTestBot(t)

	guard := middleware.Recover(func(error, tele.Context) {})
	failing := guard(func(c tele.Context) error { return assert.AnError })

	// Errors pass through to the poll loop's OnError hook; they are
	// logged, not fatal
	assert.ErrorIs(t, failing(userCtx(42, "alice")), assert.AnError)

	ctx := userCtx(43, "bob")
	require.NoError(t, b.handleStart(ctx))
	assert.Contains(t, ctx.lastSent(), "Welcome")
}

func TestAdminOnly(t *testing.T) {
	b, _, _ := setupTestBot(t)

	called := false
	handler := b.adminOnly(func(c tele.Context) error {
		called = true
		return nil
	})

	// Stranger with a callback gets a refusal response
	stranger := userCtx(42, "alice")
	stranger.callback = &tele.Callback{}
	require.NoError(t, handler(stranger))
	assert.False(t, called)
	require.NotNil(t, stranger.lastResponse())

	require.NoError(t, handler(adminCtx()))
	assert.True(t, called)
}
