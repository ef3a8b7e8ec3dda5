// ABOUTME: Telegram bot core: construction, handler registration, lifecycle
// ABOUTME: Wraps telebot long polling with panic recovery and graceful stop

package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

// Panel is the slice of the 3x-ui client the bot needs. Satisfied by
// *xui.Client; tests substitute a fake.
type Panel interface {
	Inbounds(ctx context.Context) ([]*xui.Inbound, error)
	Inbound(ctx context.Context, id int) (*xui.Inbound, error)
	ClientsByInbound(ctx context.Context, inboundID int) ([]*xui.InboundClient, error)
	FindClientByEmail(ctx context.Context, email string) (*xui.InboundClient, *xui.Inbound, error)
	CreateClient(ctx context.Context, inboundID int, email string, totalGB int64, expiry time.Time) (*xui.InboundClient, error)
	DeleteClient(ctx context.Context, inboundID int, clientID string) error
	ClientStats(ctx context.Context, email string) (*xui.ClientStat, error)
}

// sender is the out-of-band message surface of *tele.Bot
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Config holds bot construction parameters
type Config struct {
	Token   string
	AdminID int64
}

// Bot dispatches Telegram updates to client and admin handlers
type Bot struct {
	api    *tele.Bot
	send   sender
	store  store.Store
	panel  Panel
	links  *xui.LinkBuilder
	cfg    Config
	logger *slog.Logger

	// awaitingAsk holds the request ID the admin is composing a
	// question for; the next admin text message is relayed to that
	// requester. Single admin, so one slot.
	mu          sync.Mutex
	awaitingAsk string
}

// New creates the bot and registers all handlers. The long-poll loop
// does not start until Start is called.
func New(cfg Config, st store.Store, panel Panel, links *xui.LinkBuilder) (*Bot, error) {
	logger := slog.Default().With("component", "bot")

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			// A failing handler must never take down the poll loop
			if c != nil && c.Sender() != nil {
				logger.Error("handler failed", "error", err, "user", c.Sender().ID)
				return
			}
			logger.Error("handler failed", "error", err)
		},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		api:    api,
		send:   api,
		store:  st,
		panel:  panel,
		links:  links,
		cfg:    cfg,
		logger: logger,
	}
	b.register()
	return b, nil
}

// register wires every command, callback, and fallback handler
func (b *Bot) register() {
	// Panicking handlers are recovered and routed to OnError
	b.api.Use(middleware.Recover())

	// Client commands
	b.api.Handle("/start", b.handleStart)
	b.api.Handle("/help", b.handleHelp)
	b.api.Handle("/status", b.handleStatus)
	b.api.Handle("/id", b.handleID)

	// Client callbacks
	b.api.Handle(&btnMainMenu, b.cbMainMenu)
	b.api.Handle(&btnGetKeys, b.cbGetKeys)
	b.api.Handle(&btnRequestKey, b.cbRequestKey)
	b.api.Handle(&btnQR, b.cbQR)
	b.api.Handle(&btnKeyStats, b.cbKeyStats)

	// Admin commands
	b.api.Handle("/requests", b.adminOnly(b.handleRequests))
	b.api.Handle("/keys", b.adminOnly(b.handleKeys))
	b.api.Handle("/bans", b.adminOnly(b.handleBans))
	b.api.Handle("/unban", b.adminOnly(b.handleUnban))

	// Admin callbacks
	b.api.Handle(&btnAccept, b.adminOnly(b.cbAccept))
	b.api.Handle(&btnAcceptInbound, b.adminOnly(b.cbAcceptInbound))
	b.api.Handle(&btnAssign, b.adminOnly(b.cbAssign))
	b.api.Handle(&btnAssignInbound, b.adminOnly(b.cbAssignInbound))
	b.api.Handle(&btnAssignClient, b.adminOnly(b.cbAssignClient))
	b.api.Handle(&btnReject, b.adminOnly(b.cbReject))
	b.api.Handle(&btnDenied, b.adminOnly(b.cbDenied))
	b.api.Handle(&btnAsk, b.adminOnly(b.cbAsk))
	b.api.Handle(&btnBackToRequest, b.adminOnly(b.cbBackToRequest))
	b.api.Handle(&btnUnbindUser, b.adminOnly(b.cbUnbindUser))
	b.api.Handle(&btnBanUser, b.adminOnly(b.cbBanUser))

	// Free text: admin replies and user-to-admin forwarding.
	// /unban_123 style commands also land here.
	b.api.Handle(tele.OnText, b.handleText)
}

// adminOnly drops updates from anyone but the configured admin
func (b *Bot) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || c.Sender().ID != b.cfg.AdminID {
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: "Not allowed."})
			}
			return nil
		}
		return next(c)
	}
}

// Start runs the long-poll loop until the context is canceled. The
// poller itself retries transient network failures; Stop shuts the loop
// down cleanly.
func (b *Bot) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.logger.Info("stopping bot")
		b.api.Stop()
	}()

	b.logger.Info("bot started", "username", b.api.Me.Username)
	b.api.Start()
}

// Notify sends a message to an arbitrary chat outside of any update
// context
func (b *Bot) Notify(chatID int64, text string, opts ...interface{}) error {
	_, err := b.send.Send(tele.ChatID(chatID), text, opts...)
	return err
}

// NotifyHTML is Notify with HTML formatting. The report scheduler
// delivers through this.
func (b *Bot) NotifyHTML(chatID int64, text string) error {
	return b.Notify(chatID, text, tele.ModeHTML)
}

// notifyAdmin sends to the configured admin chat
func (b *Bot) notifyAdmin(text string, opts ...interface{}) error {
	return b.Notify(b.cfg.AdminID, text, opts...)
}

func (b *Bot) isAdmin(c tele.Context) bool {
	return c.Sender() != nil && c.Sender().ID == b.cfg.AdminID
}

func (b *Bot) setAwaitingAsk(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaitingAsk = requestID
}

func (b *Bot) takeAwaitingAsk() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.awaitingAsk
	b.awaitingAsk = ""
	return id
}
