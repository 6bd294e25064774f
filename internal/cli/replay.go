package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tOgg1/chathistory/internal/events"
	"github.com/tOgg1/chathistory/internal/tui"
)

type replayOptions struct {
	presentation string
	width        int
	height       int
	scroll       int
	fromStart    bool
	all          bool
	events       bool
	settle       time.Duration
	timeout      time.Duration
}

func defaultReplayOptions() replayOptions {
	return replayOptions{
		width:   80,
		height:  20,
		settle:  150 * time.Millisecond,
		timeout: 10 * time.Second,
	}
}

func newReplayCmd(a *app) *cobra.Command {
	opts := defaultReplayOptions()
	cmd := &cobra.Command{
		Use:   "replay [chat]",
		Short: "Render a chat history view to stdout",
		Long: `Run a history view without a terminal: open the chat, let loading settle,
optionally scroll, and print the rows the viewport shows.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReplay(cmd.Context(), a.chatArg(args), opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.presentation, "presentation", "", "override projection.presentation (bubble, list)")
	flags.IntVar(&opts.width, "width", opts.width, "render width in columns")
	flags.IntVar(&opts.height, "height", opts.height, "viewport height in rows")
	flags.IntVar(&opts.scroll, "scroll", 0, "rows to scroll after loading; negative scrolls toward older messages")
	flags.BoolVar(&opts.fromStart, "from-start", false, "jump to the start of history before printing")
	flags.BoolVar(&opts.all, "all", false, "print every loaded entry instead of the viewport")
	flags.BoolVar(&opts.events, "events", false, "print view events as JSON lines")
	flags.DurationVar(&opts.settle, "settle", opts.settle, "idle time after which loading counts as settled")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "give up settling after this long")
	return cmd
}

// replayLoop drives a tui.Executor from the calling goroutine instead of a
// bubbletea program.
type replayLoop struct {
	exec   *tui.Executor
	signal chan struct{}
}

func newReplayLoop() *replayLoop {
	l := &replayLoop{exec: tui.NewExecutor(), signal: make(chan struct{}, 1)}
	l.exec.Attach(func(tea.Msg) {
		select {
		case l.signal <- struct{}{}:
		default:
		}
	})
	return l
}

// settle runs posted closures until none arrives for idle.
func (l *replayLoop) settle(ctx context.Context, idle time.Duration) error {
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-l.signal:
			if l.exec.Drain() > 0 {
				timer.Reset(idle)
			}
		case <-timer.C:
			if l.exec.Pending() == 0 {
				return nil
			}
			l.exec.Drain()
			timer.Reset(idle)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *app) runReplay(ctx context.Context, chat string, opts replayOptions, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	loop := newReplayLoop()
	sess, err := a.openSession(ctx, sessionOptions{
		chat:         chat,
		height:       opts.height,
		presentation: opts.presentation,
		executor:     loop.exec,
	})
	if err != nil {
		return err
	}
	defer sess.close()

	theme, err := tui.LookupTheme(a.cfg.TUI.Theme)
	if err != nil {
		return err
	}
	renderer := tui.Renderer{
		Styles:         tui.NewStyles(theme),
		Width:          opts.width,
		ShowTimestamps: a.cfg.TUI.ShowTimestamps,
		Locale:         a.cfg.TUI.Locale,
	}
	sess.surface.SetMeasure(renderer.Measure)
	sess.surface.SetVisibleRangeChanged(sess.ctrl.VisibleRangeChanged)

	if opts.events {
		enc := json.NewEncoder(out)
		err := sess.publisher.Subscribe("replay", events.Filter{View: sess.ctrl.ViewID()}, func(ev *events.Event) {
			_ = enc.Encode(ev)
		})
		if err != nil {
			return err
		}
	}

	sess.ctrl.Layout()
	if err := sess.ctrl.Start(ctx); err != nil {
		return err
	}
	if err := loop.settle(ctx, opts.settle); err != nil {
		return fmt.Errorf("view did not settle: %w", err)
	}

	if opts.fromStart {
		if err := sess.ctrl.ScrollToStartOfHistory(); err != nil {
			return err
		}
		if err := loop.settle(ctx, opts.settle); err != nil {
			return fmt.Errorf("view did not settle: %w", err)
		}
	}
	if err := scrollInPages(ctx, sess, loop, opts); err != nil {
		return err
	}
	if opts.events {
		// keep events written during close out of the rendered rows
		if err := sess.publisher.Unsubscribe("replay"); err != nil {
			return err
		}
	}

	var lines []string
	if opts.all {
		lines = renderer.RenderAll(sess.surface.Entries())
	} else {
		window, skip := sess.surface.Window()
		lines = renderer.RenderAll(window)
		if skip > 0 && skip <= len(lines) {
			lines = lines[skip:]
		}
		if len(lines) > opts.height {
			lines = lines[:opts.height]
		}
	}
	if len(lines) == 0 {
		return writeLine(out, "(no messages)")
	}
	return writeLine(out, strings.Join(lines, "\n"))
}

// scrollInPages scrolls one viewport at a time so pagination can follow.
func scrollInPages(ctx context.Context, sess *session, loop *replayLoop, opts replayOptions) error {
	remaining := opts.scroll
	page := max(opts.height, 1)
	for remaining != 0 {
		step := max(min(remaining, page), -page)
		sess.surface.ScrollBy(step)
		remaining -= step
		if err := loop.settle(ctx, opts.settle); err != nil {
			return fmt.Errorf("view did not settle: %w", err)
		}
	}
	return nil
}

func writeLine(out io.Writer, s string) error {
	_, err := fmt.Fprintln(out, s)
	return err
}
