// ABOUTME: Entry point for the vpnbot Telegram daemon
// ABOUTME: Subcommands: serve, init, health

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"vpnbot/internal/bot"
	"vpnbot/internal/config"
	"vpnbot/internal/report"
	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                       _           _
 __   ___ __  _ __    | |__   ___ | |_
 \ \ / / '_ \| '_ \   | '_ \ / _ \| __|
  \ V /| |_) | | | |  | |_) | (_) | |_
   \_/ | .__/|_| |_|  |_.__/ \___/ \__|
       |_|
`

// getConfigPath returns the path to the bot config file.
// Priority: VPNBOT_CONFIG env var > XDG_CONFIG_HOME/vpnbot/config.yaml > ~/.config/vpnbot/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VPNBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "vpnbot", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: vpnbot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the bot")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  health  Check config, database, and panel connectivity")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Panel:    %s\n", cfg.XUI.Host)
	green.Print("    ▶ ")
	fmt.Printf("Domain:   %s\n", cfg.Server.Domain)
	fmt.Println()

	logger.Info("starting vpnbot",
		"config", configPath,
		"database", cfg.Database.Path,
		"panel", cfg.XUI.Host,
	)

	// The data directory must exist before we start; a missing or
	// read-only one is a deployment error, not something to repair here
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	panel, err := xui.NewClient(cfg.XUI.Host, cfg.XUI.Username, cfg.XUI.Password, cfg.XUI.Insecure)
	if err != nil {
		return fmt.Errorf("creating panel client: %w", err)
	}
	if err := panel.Login(ctx); err != nil {
		return fmt.Errorf("panel login: %w", err)
	}

	// Startup probe: surface panel and store health before polling
	inbounds, err := panel.Inbounds(ctx)
	if err != nil {
		return fmt.Errorf("listing inbounds: %w", err)
	}
	users, err := st.CountUsers(ctx)
	if err != nil {
		return err
	}
	keys, err := st.CountKeys(ctx)
	if err != nil {
		return err
	}
	logger.Info("startup probe", "inbounds", len(inbounds), "users", users, "keys", keys)

	links := &xui.LinkBuilder{
		Domain:           cfg.Server.Domain,
		SubscriptionPort: cfg.Server.SubscriptionPort,
	}

	b, err := bot.New(bot.Config{
		Token:   cfg.Telegram.Token,
		AdminID: cfg.Telegram.AdminID,
	}, st, panel, links)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	var wg sync.WaitGroup
	if cfg.Reports.Enabled {
		scheduler := report.New(report.Config{
			AdminChatID: cfg.Telegram.AdminID,
			ChunkSize:   cfg.Reports.ChunkSize,
		}, st, panel, b)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	// Blocks until ctx cancellation stops the poller
	b.Start(ctx)
	wg.Wait()

	logger.Info("vpnbot stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	users, err := st.CountUsers(ctx)
	if err != nil {
		return err
	}
	keys, err := st.CountKeys(ctx)
	if err != nil {
		return err
	}

	panel, err := xui.NewClient(cfg.XUI.Host, cfg.XUI.Username, cfg.XUI.Password, cfg.XUI.Insecure)
	if err != nil {
		return fmt.Errorf("creating panel client: %w", err)
	}
	if err := panel.Login(ctx); err != nil {
		return fmt.Errorf("panel login: %w", err)
	}
	inbounds, err := panel.Inbounds(ctx)
	if err != nil {
		return fmt.Errorf("listing inbounds: %w", err)
	}

	fmt.Printf("healthy: %d users, %d keys, %d inbounds\n", users, keys, len(inbounds))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("vpnbot configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Telegram Configuration ---")
	token := prompt(reader, "Bot token (from @BotFather)", "")
	adminID := prompt(reader, "Admin Telegram ID", "")

	fmt.Println("\n--- Panel Configuration ---")
	xuiHost := prompt(reader, "3x-ui panel URL", "https://localhost:2053")
	xuiUser := prompt(reader, "Panel username", "admin")
	xuiPass := prompt(reader, "Panel password", "")
	insecure := prompt(reader, "Skip TLS verification (self-signed cert)?", "no")

	fmt.Println("\n--- Server Configuration ---")
	domain := prompt(reader, "Public VPN domain", "")
	subPort := prompt(reader, "Subscription port", "2096")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", "/app/data/bot.db")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	fmt.Println("\n--- Reports Configuration ---")
	reports := prompt(reader, "Enable scheduled usage reports?", "yes")

	insecureVal := strings.ToLower(insecure) == "yes" || strings.ToLower(insecure) == "y"
	reportsVal := strings.ToLower(reports) == "yes" || strings.ToLower(reports) == "y"

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# vpnbot configuration\n")
	cfg.WriteString("# Generated by vpnbot init\n\n")

	cfg.WriteString("telegram:\n")
	cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", token))
	cfg.WriteString(fmt.Sprintf("  admin_id: %s\n", adminID))
	cfg.WriteString("\n")

	cfg.WriteString("xui:\n")
	cfg.WriteString(fmt.Sprintf("  host: \"%s\"\n", xuiHost))
	cfg.WriteString(fmt.Sprintf("  username: \"%s\"\n", xuiUser))
	cfg.WriteString(fmt.Sprintf("  password: \"%s\"\n", xuiPass))
	cfg.WriteString(fmt.Sprintf("  insecure: %t\n", insecureVal))
	cfg.WriteString("\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  domain: \"%s\"\n", domain))
	cfg.WriteString(fmt.Sprintf("  subscription_port: %s\n", subPort))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("reports:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", reportsVal))
	cfg.WriteString("  chunk_size: 30\n")

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the bot:")
	fmt.Printf("  vpnbot serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
