package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/audit"
	"github.com/contactpilot/contactpilot/internal/config"
	"github.com/contactpilot/contactpilot/internal/crypto"
	"github.com/contactpilot/contactpilot/internal/observability"
	"github.com/contactpilot/contactpilot/internal/repository/postgres"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

// env is the state shared by subcommands, built in PersistentPreRunE.
type env struct {
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
	db      *postgres.DB
	audit   *audit.Logger
}

// repos connects to the database on first use
func (e *env) repos() (*postgres.Repositories, error) {
	if e.db == nil {
		db, err := postgres.New(e.cfg.Database)
		if err != nil {
			return nil, err
		}
		e.db = db
	}
	key, err := crypto.ParseKey(e.cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return postgres.NewRepositories(e.db.DB, key), nil
}

// events returns the campaign event log, or nil when AUDIT_ENABLED is off
func (e *env) events() (*audit.Logger, error) {
	if !e.cfg.Audit.Enabled {
		return nil, nil
	}
	if e.audit == nil {
		if _, err := e.repos(); err != nil {
			return nil, err
		}
		e.audit = audit.NewLogger(e.db.DB, audit.LoggerConfig{
			BufferSize:    e.cfg.Audit.BufferSize,
			FlushInterval: e.cfg.Audit.FlushInterval,
		}, e.logger.Named("audit"))
	}
	return e.audit, nil
}

func (e *env) close() {
	if e.audit != nil {
		_ = e.audit.Close()
	}
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "pilotctl",
		Short:         "Operate ContactPilot campaigns",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			e.cfg = cfg

			logCfg := cfg.Log
			if !e.verbose {
				logCfg.Level = "warn"
			}
			e.logger = observability.NewLogger(logCfg, cfg.Env, "pilotctl")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(newStatusCmd(e), newRetryCmd(e), newProbeCmd(e))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		red.Fprintf(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
