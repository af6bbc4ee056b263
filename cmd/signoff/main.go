package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signoff/internal/app"
	"signoff/internal/config"
	"signoff/internal/domain"
	"signoff/internal/logging"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "signoff",
	Short: "Signoff approval workflows",
	Long: `Signoff routes requests (leave, expenses, equipment...) through an ordered
chain of approvers and keeps an audit trail of every decision.
- Chain: the approvers a request must pass, resolved from signoff.yml when it is submitted.
- Step: one approver's position in the chain; only the pending step can be acted on.
- Views: todo (waiting on you), done (you acted), team, all (admin and hr by default).
- Reminders: nudge the current approver, at most once per cooldown window.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SIGNOFF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/signoff.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "act as this directory member")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	rootCmd.PersistentFlags().String("storage-driver", "", "storage driver override (sqlite, postgres, memory)")
	rootCmd.PersistentFlags().String("storage-dsn", "", "storage DSN override")
	for _, name := range []string{"workspace", "config", "json", "as", "log-level", "storage-driver", "storage-dsn"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// --- helpers ---

// loadConfig reads the workspace config, falling back to the sample
// organization, then applies flag and SIGNOFF_* overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOrDefault(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("storage-driver"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := viper.GetString("storage-dsn"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("notify-sink"); v != "" {
		cfg.Notifications.Sink = v
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "signoff",
		Version: version,
	}, os.Stderr)
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actor resolves --as (or SIGNOFF_AS) against the directory.
func actor(a *app.Context) (domain.Identity, error) {
	id := strings.TrimSpace(viper.GetString("as"))
	if id == "" {
		return domain.Identity{}, fmt.Errorf("no actor; pass --as or set SIGNOFF_AS")
	}
	who, ok := a.Directory.Lookup(id)
	if !ok {
		return domain.Identity{}, fmt.Errorf("%s is not in the directory", id)
	}
	return who, nil
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
