// Package main provides the nossacarteira binary entry point.
// The agent keeps a household's finance state in sync with a NATS JetStream
// store and serves it to local UI clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/nossacarteira/config"
	"github.com/c360studio/nossacarteira/prefs"
	"github.com/c360studio/nossacarteira/session"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "nossacarteira"
)

// defaultTokenTTL is the lifetime of tokens minted by the token command.
const defaultTokenTTL = 30 * 24 * time.Hour

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Household finance sync agent",
		Long: `Nossacarteira keeps a two-person household's transactions, goals,
shopping list and settings in sync with a NATS JetStream store.

It provides:
- Real-time reconciliation of every collection into local state
- A local HTTP API for UI clients, with a sync indicator stream
- Session handling through a signed token file`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	cmd.AddCommand(initCmd(&logLevel))
	cmd.AddCommand(tokenCmd(&configPath, &logLevel))
	cmd.AddCommand(logoutCmd(&configPath, &logLevel))
	cmd.AddCommand(themeCmd())

	return cmd
}

func initCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the user config with a new session secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(newLogger(*logLevel, "warn"))
			created, err := loader.EnsureUserConfig()
			if err != nil {
				return fmt.Errorf("create user config: %w", err)
			}
			if created {
				fmt.Printf("Created %s\n", loader.UserConfigPath())
			} else {
				fmt.Printf("%s already exists\n", loader.UserConfigPath())
			}
			return nil
		},
	}
}

func tokenCmd(configPath, logLevel *string) *cobra.Command {
	var (
		id  session.Identity
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign in by writing a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, newLogger(*logLevel, "warn"))
			if err != nil {
				return err
			}
			token, err := session.IssueToken([]byte(cfg.Session.Secret), id, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			if err := session.WriteToken(cfg.Session.TokenFile, token); err != nil {
				return err
			}
			fmt.Printf("Signed in as %s (%s) in household %s\n", id.Name, id.UserID, id.Household)
			fmt.Printf("Token written to %s\n", cfg.Session.TokenFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&id.UserID, "user", "", "User id (e.g. user_a)")
	cmd.Flags().StringVar(&id.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&id.Household, "household", "", "Household the user belongs to")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime (0 = no expiry)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("household")

	return cmd
}

func logoutCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out by removing the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, newLogger(*logLevel, "warn"))
			if err != nil {
				return err
			}
			if err := os.Remove(cfg.Session.TokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove token: %w", err)
			}
			fmt.Println("Signed out")
			return nil
		},
	}
}

func themeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "theme [dark|light|toggle]",
		Short:     "Show or change the display theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(prefs.ThemeDark), string(prefs.ThemeLight), "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := prefsPath()
			if err != nil {
				return err
			}
			p, err := prefs.Load(path)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Println(p.Theme)
				return nil
			}

			next := p.Theme.Toggle()
			if args[0] != "toggle" {
				if next, err = prefs.ParseTheme(args[0]); err != nil {
					return err
				}
			}
			if err := prefs.Save(path, prefs.Prefs{Theme: next}); err != nil {
				return err
			}
			fmt.Println(next)
			return nil
		},
	}
}

func run(configPath, logLevel string) error {
	printBanner()

	bootstrap := newLogger(logLevel, "info")
	cfg, err := loadConfig(configPath, bootstrap)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	logger := newLogger(level, "info")
	slog.SetDefault(logger)

	if path, err := prefsPath(); err == nil {
		if p, err := prefs.Load(path); err != nil {
			logger.Warn("Failed to load preferences", "path", path, "error", err)
		} else {
			logger.Debug("Preferences loaded", "theme", p.Theme)
		}
	}

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		app.Shutdown(5 * time.Second)
		return err
	}

	slog.Info("Nossacarteira ready",
		"version", Version,
		"api", app.Addr(),
		"token_file", cfg.Session.TokenFile)

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("Received shutdown signal")

	app.Shutdown(10 * time.Second)
	slog.Info("Nossacarteira shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║           Nossacarteira v" + Version + "                ║")
	fmt.Println("║        Household Finance Sync Agent           ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds a text logger on stderr. An empty level uses fallback.
func newLogger(level, fallback string) *slog.Logger {
	if level == "" {
		level = fallback
	}
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func prefsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, config.UserConfigDir, prefs.FileName), nil
}
