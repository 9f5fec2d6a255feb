package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-repertoire/internal/adapter/practicepresenter"
	"github.com/park285/cheese-repertoire/internal/eventfeed"
	"github.com/park285/cheese-repertoire/internal/msgcat"
	"github.com/park285/cheese-repertoire/internal/obslog"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
)

const (
	feedRetries    = 5
	feedRetryDelay = time.Second
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import PATH...",
		Short: "Validate and store repertoire files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			out := cmd.OutOrStdout()
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				if info.IsDir() {
					reports, err := a.deps.ImportDir(ctx, a.cfg.UserID, path)
					if err != nil {
						return a.userError(cmd, err)
					}
					for _, r := range reports {
						fmt.Fprintln(out, a.formatter.Inspect(practicepresenter.ToDTORepertoire(r)))
					}
					continue
				}
				resp, err := a.gateway.Import(ctx, practicedto.ImportRequest{Meta: a.meta(), Repertoire: path})
				if err != nil {
					return a.userError(cmd, err)
				}
				fmt.Fprintln(out, a.formatter.Inspect(resp.Repertoire))
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [REPERTOIRE]",
		Short: "List stored repertoires or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				resp, err := a.gateway.Repertoires(ctx, practicedto.ListRepertoiresRequest{Meta: a.meta()})
				if err != nil {
					return a.userError(cmd, err)
				}
				fmt.Fprintln(out, a.formatter.Repertoires(resp.Repertoires))
				return nil
			}
			resp, err := a.gateway.Inspect(ctx, practicedto.InspectRequest{Meta: a.meta(), RepertoireID: args[0]})
			if err != nil {
				return a.userError(cmd, err)
			}
			fmt.Fprintln(out, a.formatter.Inspect(resp.Repertoire))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [SESSION]",
		Short: "Show recent sessions, or the moves of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				resp, err := a.gateway.Session(ctx, practicedto.SessionRequest{Meta: a.meta(), SessionID: args[0]})
				if err != nil {
					return a.userError(cmd, err)
				}
				fmt.Fprintln(out, a.formatter.History([]*practicedto.SessionSummary{resp.Session}))
				if len(resp.Moves) > 0 {
					fmt.Fprintln(out, a.formatter.Moves(resp.Moves))
				}
				return nil
			}
			resp, err := a.gateway.History(ctx, practicedto.HistoryRequest{Meta: a.meta(), Limit: limit})
			if err != nil {
				return a.userError(cmd, err)
			}
			fmt.Fprintln(out, a.formatter.History(resp.Sessions))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of sessions (default: HISTORY_LIMIT)")
	return cmd
}

func newFeedCmd() *cobra.Command {
	var (
		feedURL string
		session string
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Follow a running drill's events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			target, err := feedTarget(feedURL, cfg.FeedAddr, session)
			if err != nil {
				return err
			}
			cat, err := msgcat.New(cfg.MessagesDir)
			if err != nil {
				return err
			}
			formatter := practicepresenter.NewFormatter(cat)
			out := cmd.OutOrStdout()

			sub := eventfeed.NewSubscriber(target, feedRetries, feedRetryDelay, obslog.L())
			err = sub.Run(ctx, func(ev practicedto.Event) {
				if ev.Kind == practicedto.EventHello {
					return
				}
				fmt.Fprintln(out, formatter.Event(ev))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&feedURL, "url", "", "feed websocket URL (default: ws://FEED_ADDR/events)")
	cmd.Flags().StringVar(&session, "session", "", "only show this session")
	return cmd
}

// feedTarget resolves the websocket URL from the flag or FEED_ADDR.
func feedTarget(raw, addr, session string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return "", errors.New("FEED_ADDR or --url is required")
		}
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		raw = "ws://" + addr + eventfeed.EventsPath
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("feed url: %w", err)
	}
	if s := strings.TrimSpace(session); s != "" {
		q := u.Query()
		q.Set("session", s)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
