package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/config"
	"github.com/DoyleJ11/clicker-client/internal/logging"
	"github.com/DoyleJ11/clicker-client/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	envFile string
	cfg     config.ClientConfig
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "clicker",
		Short:        "Headless client for the clicker game",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "optional dotenv file")

	root.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newLeaderboardCmd(a),
		newPlayCmd(a),
	)
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	logCfg, err := config.LoadLog()
	if err != nil {
		return err
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// open builds a session routed to the terminal on auth loss.
func (a *app) open(ctx context.Context, cmd *cobra.Command) (*session.Session, error) {
	return session.New(ctx, a.cfg, a.log, session.WithNavigator(session.NavigatorFunc(func() {
		fmt.Fprintln(cmd.ErrOrStderr(), "session ended, run `clicker login` to sign in again")
	})))
}
