package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/chathistory/internal/store"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [chat...]",
		Short: "Show message and unread counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			chats := args
			if len(chats) == 0 {
				chats = []string{a.cfg.Global.Chat}
			}
			rows := make([][]string, 0, len(chats))
			for _, chat := range chats {
				row, err := a.statsRow(cmd, chat)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			return writeTable(cmd.OutOrStdout(), []string{"CHAT", "MESSAGES", "HOLES", "UNREAD", "READ THROUGH", "READ"}, rows)
		},
	}
}

func (a *app) statsRow(cmd *cobra.Command, chat string) ([]string, error) {
	ctx := cmd.Context()
	st, err := store.OpenSQLiteWithOptions(ctx, a.cfg.DatabasePath(), chat, store.SQLiteOptions{
		BusyTimeout: time.Duration(a.cfg.Database.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats for %q: %w", chat, err)
	}
	readThrough := "-"
	if rs := stats.ReadState.MaxReadIndex; rs != nil {
		readThrough = humanize.Time(time.Unix(rs.Timestamp, 0))
	}
	return []string{
		chat,
		humanize.Comma(int64(stats.Messages)),
		strconv.Itoa(stats.Holes),
		humanize.Comma(int64(stats.ReadState.UnreadCount)),
		readThrough,
		formatYesNo(stats.ReadState.MaxReadIndex != nil),
	}, nil
}
