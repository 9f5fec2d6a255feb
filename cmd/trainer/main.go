// Command trainer drills opening repertoires from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-repertoire/internal/adapter/practicepresenter"
	"github.com/park285/cheese-repertoire/internal/config"
	"github.com/park285/cheese-repertoire/internal/obslog"
	"github.com/park285/cheese-repertoire/internal/trainerbuilder"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
	"go.uber.org/zap"
)

var userFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "trainer",
		Short:        "Opening repertoire trainer",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id (default: TRAINER_USER)")

	rootCmd.AddCommand(newDrillCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newFeedCmd())
	return rootCmd
}

// app is everything a command needs once the backends are open.
type app struct {
	cfg       *config.AppConfig
	deps      *trainerbuilder.Deps
	gateway   *practicepresenter.Gateway
	formatter *practicepresenter.Formatter
	closeLog  func() error
}

func loadConfig() (*config.AppConfig, func() error, error) {
	closeLog, err := obslog.InitFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		_ = closeLog()
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	if u := strings.TrimSpace(userFlag); u != "" {
		cfg.UserID = u
	}
	return cfg, closeLog, nil
}

// bootstrap opens the backends. Only drill serves the event feed; other
// commands would fight it for the port.
func bootstrap(ctx context.Context, withFeed bool) (*app, error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, err
	}
	deps, err := trainerbuilder.New(ctx, cfg, obslog.L(), trainerbuilder.Options{NoFeed: !withFeed})
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("trainer init error: %w", err)
	}
	return &app{
		cfg:       cfg,
		deps:      deps,
		gateway:   practicepresenter.NewGateway(deps.Service),
		formatter: practicepresenter.NewFormatter(deps.Catalog),
		closeLog:  closeLog,
	}, nil
}

func (a *app) meta() practicedto.RequestMeta {
	return practicedto.RequestMeta{UserID: a.cfg.UserID}
}

func (a *app) close(ctx context.Context) {
	if err := a.deps.Close(ctx); err != nil {
		obslog.L().Warn("shutdown_incomplete", zap.Error(err))
	}
	_ = a.closeLog()
}

// userError prints err the way the drill does and marks the command failed.
func (a *app) userError(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), a.formatter.Error(err))
	var de practicedto.DomainError
	if errors.As(practicepresenter.ToDomainError(err), &de) {
		return fmt.Errorf("%s", de.Code)
	}
	return err
}
