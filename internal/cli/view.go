package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tOgg1/chathistory/internal/logging"
	"github.com/tOgg1/chathistory/internal/tui"
)

type viewOptions struct {
	presentation string
	noRestore    bool
}

func newViewCmd(a *app) *cobra.Command {
	var opts viewOptions
	cmd := &cobra.Command{
		Use:         "view [chat]",
		Short:       "Open a chat history view",
		Long:        "Open an interactive, incrementally loaded view over a chat's history. Without a terminal the view is replayed to stdout.",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{annotationTUI: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			chat := a.chatArg(args)
			if !hasTTY() {
				a.logger.Info().Str("chat", chat).Msg("no terminal attached, replaying view to stdout")
				replay := defaultReplayOptions()
				replay.presentation = opts.presentation
				return a.runReplay(cmd.Context(), chat, replay, cmd.OutOrStdout())
			}
			return a.runView(cmd.Context(), chat, opts)
		},
	}
	cmd.Flags().StringVar(&opts.presentation, "presentation", "", "override projection.presentation (bubble, list)")
	cmd.Flags().BoolVar(&opts.noRestore, "no-restore", false, "open at the unread position instead of the saved one")
	return cmd
}

func (a *app) runView(ctx context.Context, chat string, opts viewOptions) error {
	exec := tui.NewExecutor()
	sess, err := a.openSession(ctx, sessionOptions{
		chat:         chat,
		height:       terminalHeight(24),
		presentation: opts.presentation,
		restore:      !opts.noRestore,
		executor:     exec,
	})
	if err != nil {
		return err
	}
	defer sess.close()

	model, err := tui.NewModel(tui.Config{
		Title:          chat,
		Theme:          a.cfg.TUI.Theme,
		Locale:         a.cfg.TUI.Locale,
		ShowTimestamps: a.cfg.TUI.ShowTimestamps,
		Reverse:        sess.mode.Reverse,
	}, sess.ctrl, sess.surface, exec, logging.Component("tui"))
	if err != nil {
		return err
	}
	if err := model.Subscribe(sess.publisher, sess.ctrl.ViewID()); err != nil {
		return err
	}
	if err := sess.ctrl.Start(ctx); err != nil {
		return err
	}
	return model.Run(ctx)
}
