package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maloquacious/semver"
	"github.com/maloquacious/stockroom/internal/config"
	"github.com/maloquacious/stockroom/internal/dbmanager"
	"github.com/maloquacious/stockroom/internal/lifecycle"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/services/console"
	"github.com/maloquacious/stockroom/internal/services/tcpserver"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/maloquacious/stockroom/internal/store/lock"
	"github.com/spf13/cobra"
)

var (
	version = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
)

var (
	cfg        config.Config
	log        logger.Logger
	shutdownTO time.Duration
	exitAfter  time.Duration
)

func main() {
	var err error
	if cfg, err = config.ParseEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rootCmd := &cobra.Command{
		Use:           "app",
		Short:         "Stockroom inventory store and database manager",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = logger.NewLeveled(os.Stderr, logger.ParseLevel(cfg.LogLevel))
		},
	}

	// Global flags; each defaults to the STOCKROOM_* environment value.
	pf := rootCmd.PersistentFlags()
	pf.DurationVar(&shutdownTO, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	pf.StringVar(&cfg.PreferredURI, "preferred-uri", cfg.PreferredURI, "preferred external store URI")
	pf.StringVar(&cfg.NetworkedURI, "networked-uri", cfg.NetworkedURI, "networked store URI (empty to skip)")
	pf.StringVar(&cfg.LocalURI, "local-uri", cfg.LocalURI, "local embedded store URI")
	pf.BoolVar(&cfg.UsePreferred, "use-preferred", cfg.UsePreferred, "try the preferred external store first")
	pf.StringVar(&cfg.Username, "username", cfg.Username, "store username")
	pf.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "connection attempts per target")
	pf.DurationVar(&cfg.BaseDelay, "base-delay", cfg.BaseDelay, "linear backoff step between attempts")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auxiliary services and hold the store open",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&cfg.TCPEnabled, "tcp", cfg.TCPEnabled, "start the TCP status server")
	serveCmd.Flags().StringVar(&cfg.TCPAddr, "tcp-addr", cfg.TCPAddr, "TCP status server address")
	serveCmd.Flags().BoolVar(&cfg.ConsoleEnabled, "console", cfg.ConsoleEnabled, "start the web console")
	serveCmd.Flags().StringVar(&cfg.ConsoleAddr, "console-addr", cfg.ConsoleAddr, "web console address")
	serveCmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show configured targets and their lock files",
		RunE:  runStatus,
	}

	// db command group
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and provision the store",
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Add missing tables, columns and seed accounts",
		RunE:  runDBUpgrade,
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Report missing tables and columns as JSON",
		RunE:  runDBVerify,
	}
	dbUnlockCmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove stale lock files left by a crashed process",
		RunE:  runDBUnlock,
	}

	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd, dbUnlockCmd)
	rootCmd.AddCommand(serveCmd, statusCmd, dbCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newManager() (*dbmanager.Manager, error) {
	return dbmanager.New(cfg, log)
}

// runServe starts the auxiliary services and the first connection, then
// waits for a signal and shuts down.
func runServe(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	var tcp lifecycle.Service = lifecycle.Nop("tcp")
	if cfg.TCPEnabled {
		tcp = tcpserver.New(cfg.TCPAddr, mgr, log)
	}
	var web lifecycle.Service = lifecycle.Nop("console")
	if cfg.ConsoleEnabled {
		web = console.New(cfg.ConsoleAddr, mgr, mgr.Registry(), version.String(), log)
	}
	mgr.Use(tcp, web)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if exitAfter > 0 {
		log.Info("exit-after timer set: %s", exitAfter)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exitAfter)
		defer cancel()
	}

	startErr := mgr.Start(ctx)
	if startErr != nil {
		log.Error("%v", startErr)
	} else {
		log.Info("stockroom %s serving from %s", version.String(), mgr.ActiveTargetDescription())
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTO)
	defer cancel()
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Warn("close: %v", err)
	}
	log.Info("shutdown complete")
	return startErr
}

func runStatus(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close(cmd.Context())

	type targetStatus struct {
		Kind     string `json:"kind"`
		Target   string `json:"target"`
		Exists   bool   `json:"exists"`
		LockFile string `json:"lockFile,omitempty"`
		Locked   bool   `json:"locked"`
	}
	var out []targetStatus
	for _, t := range mgr.Targets() {
		exists, err := store.CheckExists(t)
		if err != nil {
			return err
		}
		out = append(out, targetStatus{
			Kind:     t.Kind.String(),
			Target:   t.Description(),
			Exists:   exists,
			LockFile: lock.Path(t),
			Locked:   lock.Held(t),
		})
	}
	return printJSON(map[string]any{
		"version":   version.String(),
		"preferred": mgr.IsUsingPreferredExternalTarget(),
		"active":    mgr.ActiveTargetDescription(),
		"targets":   out,
	})
}

// runDBCreate opens the store, which provisions it on first contact.
func runDBCreate(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close(cmd.Context())

	if err := mgr.Start(cmd.Context()); err != nil {
		return err
	}
	log.Info("db create: store ready at %s", mgr.ActiveTargetDescription())
	return nil
}

func runDBUpgrade(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close(cmd.Context())

	if err := mgr.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	log.Info("db upgrade: %s is up to date", mgr.ActiveTargetDescription())
	return nil
}

func runDBVerify(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close(cmd.Context())

	report, err := mgr.VerifySchema(cmd.Context())
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK() {
		return errors.New("db verify: schema drift detected")
	}
	return nil
}

// runDBUnlock removes lock files that no running process holds.
func runDBUnlock(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close(cmd.Context())

	var failed []string
	for _, t := range mgr.Targets() {
		if !t.IsFile() {
			continue
		}
		if !lock.Cleanup(t, log) {
			failed = append(failed, lock.Path(t))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("db unlock: lock files still held: %v", failed)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
