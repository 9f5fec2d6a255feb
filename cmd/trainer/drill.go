package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-repertoire/internal/adapter/practicepresenter"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
)

type drillOptions struct {
	repertoire string
	maxMoves   int
	strict     bool
	variations bool
	opening    string
	seed       int64
	showFEN    bool
}

func newDrillCmd() *cobra.Command {
	var opts drillOptions
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Practice a stored repertoire against the book opponent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDrill(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.repertoire, "repertoire", "r", "", "repertoire id")
	cmd.Flags().IntVar(&opts.maxMoves, "max-moves", 0, "ply limit for this session (0: none)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "take back moves that leave the repertoire")
	cmd.Flags().BoolVar(&opts.variations, "variations", false, "let the opponent pick side lines")
	cmd.Flags().StringVar(&opts.opening, "opening", "", "drill one opening line by id")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "seed for the opponent's choices")
	cmd.Flags().BoolVar(&opts.showFEN, "fen", false, "print the position after each turn")
	_ = cmd.MarkFlagRequired("repertoire")
	return cmd
}

func runDrill(cmd *cobra.Command, opts drillOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	req := practicedto.StartSessionRequest{
		Meta:         a.meta(),
		RepertoireID: opts.repertoire,
		OpeningID:    opts.opening,
		Seed:         opts.seed,
	}
	flags := cmd.Flags()
	if flags.Changed("max-moves") {
		req.MaxMoves = &opts.maxMoves
	}
	if flags.Changed("strict") {
		req.Strictness = "flexible"
		if opts.strict {
			req.Strictness = "strict"
		}
	}
	if flags.Changed("variations") {
		req.AllowVariations = &opts.variations
	}

	out := cmd.OutOrStdout()
	d := &drill{
		gateway:   a.gateway,
		formatter: a.formatter,
		presenter: practicepresenter.NewPresenter(func(msg string) error {
			_, err := fmt.Fprintln(out, msg)
			return err
		}, opts.showFEN),
		meta: a.meta(),
	}
	done, err := d.start(ctx, req)
	if err != nil || done {
		return err
	}
	return d.run(ctx, cmd.InOrStdin())
}

// drill is one interactive session: each input line is a move or a command.
type drill struct {
	gateway   *practicepresenter.Gateway
	formatter *practicepresenter.Formatter
	presenter *practicepresenter.Presenter
	meta      practicedto.RequestMeta
}

func (d *drill) start(ctx context.Context, req practicedto.StartSessionRequest) (bool, error) {
	info, err := d.gateway.Inspect(ctx, practicedto.InspectRequest{Meta: d.meta, RepertoireID: req.RepertoireID})
	if err != nil {
		_ = d.presenter.Say(d.formatter.Error(err))
		return true, err
	}
	resp, err := d.gateway.Start(ctx, req)
	if err != nil {
		_ = d.presenter.Say(d.formatter.Error(err))
		return true, err
	}
	_ = d.presenter.Position(d.formatter.Start(resp.State, info.Repertoire.Name), resp.State)
	return resp.State.Completed, nil
}

// run reads lines until the session completes, input ends or ctx is
// cancelled. A session still running at that point is ended.
func (d *drill) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.finish(context.Background())
			return nil
		case line, ok := <-lines:
			if !ok {
				d.finish(ctx)
				return nil
			}
			if d.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle dispatches one line and reports whether the drill is over.
func (d *drill) handle(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	switch strings.ToLower(parts[0]) {
	case "help", "?":
		_ = d.presenter.Say(d.formatter.DrillHelp())
	case "hint":
		resp, err := d.gateway.Hint(ctx, practicedto.HintRequest{Meta: d.meta})
		if err != nil {
			return d.fail(err)
		}
		_ = d.presenter.Say(d.formatter.Hint(resp.Moves))
	case "status":
		resp, err := d.gateway.Status(ctx, practicedto.StatusRequest{Meta: d.meta})
		if err != nil {
			return d.fail(err)
		}
		_ = d.presenter.Position(d.formatter.Status(resp.State), resp.State)
	case "end", "quit", "exit":
		d.finish(ctx)
		return true
	default:
		resp, err := d.gateway.Play(ctx, practicedto.PlayRequest{Meta: d.meta, Move: parts[0]})
		if err != nil {
			return d.fail(err)
		}
		_ = d.presenter.Position(d.formatter.Move(resp.Result, resp.State), resp.State)
		return resp.State != nil && resp.State.Completed
	}
	return false
}

func (d *drill) finish(ctx context.Context) {
	resp, err := d.gateway.End(ctx, practicedto.EndRequest{Meta: d.meta})
	if err != nil {
		var de practicedto.DomainError
		if errors.As(err, &de) && de.Code == practicedto.CodeSessionNotFound {
			return
		}
		_ = d.presenter.Say(d.formatter.Error(err))
		return
	}
	_ = d.presenter.Say(d.formatter.End(resp.State))
}

// fail reports err; errors that leave nothing to play end the drill.
func (d *drill) fail(err error) bool {
	_ = d.presenter.Say(d.formatter.Error(err))
	var de practicedto.DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case practicedto.CodeSessionComplete, practicedto.CodeSessionNotFound, practicedto.CodeOpponentFailed:
		return true
	}
	return false
}
