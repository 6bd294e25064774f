package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tOgg1/chathistory/internal/logging"
	"github.com/tOgg1/chathistory/internal/models"
	"github.com/tOgg1/chathistory/internal/store"
)

// seedNamespace holds messages created by the seed command.
const seedNamespace int32 = 1

// fixture is the YAML layout accepted by the seed command.
type fixture struct {
	Chat        string           `yaml:"chat"`
	Title       string           `yaml:"title"`
	ChatInfo    string           `yaml:"chat_info"`
	Admins      []string         `yaml:"admins"`
	Start       time.Time        `yaml:"start"`
	Interval    time.Duration    `yaml:"interval"`
	Messages    []fixtureMessage `yaml:"messages"`
	Holes       []fixtureHole    `yaml:"holes"`
	ReadThrough int              `yaml:"read_through"`
}

type fixtureMessage struct {
	Author   string         `yaml:"author"`
	Text     string         `yaml:"text"`
	At       time.Time      `yaml:"at"`
	Incoming bool           `yaml:"incoming"`
	Mention  bool           `yaml:"mention"`
	Views    int            `yaml:"views"`
	Edited   bool           `yaml:"edited"`
	Action   string         `yaml:"action"`
	Media    []fixtureMedia `yaml:"media"`
}

type fixtureMedia struct {
	Kind string `yaml:"kind"`
	Size int64  `yaml:"size"`
}

// fixtureHole marks a gap of unknown messages between two times.
type fixtureHole struct {
	From time.Time `yaml:"from"`
	To   time.Time `yaml:"to"`
}

type seedOptions struct {
	generate int
	incoming bool
}

func newSeedCmd(a *app) *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed [fixture.yaml]",
		Short: "Load messages into the history database",
		Long: `Load a YAML fixture into the history database, or generate synthetic
messages with --generate. Messages are appended after the chat's existing ones.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fx fixture
			switch {
			case len(args) == 1:
				loaded, err := loadFixture(args[0])
				if err != nil {
					return err
				}
				fx = loaded
			case opts.generate > 0:
				fx = generateFixture(a.cfg.Global.Chat, opts.generate, opts.incoming, time.Now().Add(-time.Duration(opts.generate)*time.Minute))
			default:
				return errors.New("seed needs a fixture file or --generate")
			}
			if fx.Chat == "" {
				fx.Chat = a.cfg.Global.Chat
			}
			n, err := a.seed(cmd.Context(), fx)
			if err != nil {
				return err
			}
			logger := logging.FromContext(cmd.Context())
			logger.Info().Str("chat", fx.Chat).Int("messages", n).Msg("seeded history")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d messages into %q\n", n, fx.Chat)
			return err
		},
	}
	cmd.Flags().IntVar(&opts.generate, "generate", 0, "generate this many synthetic messages")
	cmd.Flags().BoolVar(&opts.incoming, "incoming", true, "mark generated messages as incoming")
	return cmd
}

func loadFixture(path string) (fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, fmt.Errorf("failed to read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fixture{}, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return fx, nil
}

func generateFixture(chat string, count int, incoming bool, start time.Time) fixture {
	authors := []string{"alice", "bob", "carol"}
	fx := fixture{Chat: chat, Start: start, Interval: time.Minute}
	for i := range count {
		fx.Messages = append(fx.Messages, fixtureMessage{
			Author:   authors[i%len(authors)],
			Text:     fmt.Sprintf("message %d", i+1),
			Incoming: incoming,
		})
	}
	return fx
}

func (a *app) seed(ctx context.Context, fx fixture) (int, error) {
	st, err := store.OpenSQLiteWithOptions(ctx, a.cfg.DatabasePath(), fx.Chat, store.SQLiteOptions{
		BusyTimeout: time.Duration(a.cfg.Database.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return 0, err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return 0, err
	}
	msgs, err := fx.build(int64(stats.Messages) + 1)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		if err := st.Append(ctx, msg); err != nil {
			return 0, fmt.Errorf("failed to append message %d: %w", msg.Index.ID, err)
		}
	}
	for i, h := range fx.Holes {
		if !h.To.After(h.From) {
			return 0, fmt.Errorf("hole %d: to must be after from", i)
		}
		// Negative IDs keep hole bounds clear of seeded messages.
		hole := models.Hole{
			Min: models.MessageIndex{Timestamp: h.From.Unix()},
			Max: models.MessageIndex{Timestamp: h.To.Unix(), Namespace: seedNamespace, ID: -int64(i + 1)},
		}
		if err := st.InsertHole(ctx, hole); err != nil {
			return 0, err
		}
	}
	if fx.Title != "" || fx.ChatInfo != "" || len(fx.Admins) > 0 {
		err := st.SetSideData(ctx, &models.SideData{Title: fx.Title, ChatInfo: fx.ChatInfo, Admins: fx.Admins})
		if err != nil {
			return 0, err
		}
	}
	if fx.ReadThrough > 0 {
		if fx.ReadThrough > len(msgs) {
			return 0, fmt.Errorf("read_through %d exceeds %d messages", fx.ReadThrough, len(msgs))
		}
		if _, err := st.MarkRead(ctx, msgs[fx.ReadThrough-1].Index); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

// build converts the fixture messages, numbering them from firstID.
func (fx fixture) build(firstID int64) ([]*models.Message, error) {
	start := fx.Start
	if start.IsZero() {
		start = time.Now().Add(-time.Duration(len(fx.Messages)) * time.Minute)
	}
	interval := fx.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	msgs := make([]*models.Message, 0, len(fx.Messages))
	for i, m := range fx.Messages {
		at := m.At
		if at.IsZero() {
			at = start.Add(time.Duration(i) * interval)
		}
		msg := &models.Message{
			Index:  models.MessageIndex{Timestamp: at.Unix(), Namespace: seedNamespace, ID: firstID + int64(i)},
			Author: m.Author,
			Text:   m.Text,
		}
		if m.Incoming {
			msg.Flags |= models.FlagIncoming
		}
		if m.Mention {
			msg.Tags |= models.TagUnseenMention
		}
		if m.Edited {
			msg.Revision = 1
		}
		if m.Views > 0 {
			msg.Attributes = append(msg.Attributes, models.Attribute{Kind: models.AttributeViewCount, Count: m.Views})
		}
		if m.Action != "" {
			msg.Media = append(msg.Media, models.Media{
				ID:     ulid.Make().String(),
				Kind:   models.MediaAction,
				Action: models.ActionKind(m.Action),
			})
		}
		for _, media := range m.Media {
			kind := models.MediaKind(media.Kind)
			switch kind {
			case models.MediaImage, models.MediaFile, models.MediaUnsupported:
			default:
				return nil, fmt.Errorf("message %d: unknown media kind %q", i+1, media.Kind)
			}
			msg.Media = append(msg.Media, models.Media{ID: ulid.Make().String(), Kind: kind, Size: media.Size})
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
