// Package botcmd runs the Slack Socket Mode bot.
package botcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/taskporter/bot"
	"github.com/quailyquaily/taskporter/dest"
	"github.com/quailyquaily/taskporter/directory"
	"github.com/quailyquaily/taskporter/draft"
	"github.com/quailyquaily/taskporter/extract"
	"github.com/quailyquaily/taskporter/internal/configutil"
	"github.com/quailyquaily/taskporter/internal/logutil"
	"github.com/quailyquaily/taskporter/internal/setup"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Slack bot with Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or TASKPORTER_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or TASKPORTER_SLACK_APP_TOKEN)")
			}

			allowedTeams := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-team-id", "slack.allowed_team_ids"))
			allowedChannels := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			store, gdb, err := setup.OpenQueueStore()
			if err != nil {
				return err
			}

			destClient, err := setup.DestClientFromViper()
			if err != nil {
				return err
			}

			llmClient, model, err := setup.LLMClientFromViper()
			if err != nil {
				return err
			}
			extractor, err := extract.New(llmClient, model, logger)
			if err != nil {
				return err
			}

			httpClient := &http.Client{Timeout: 30 * time.Second}
			api := bot.NewSlackAPI(httpClient, "https://slack.com/api", botToken, appToken)
			auth, err := api.AuthTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			botUserID := strings.TrimSpace(auth.UserID)
			if botUserID == "" {
				return fmt.Errorf("slack auth.test returned empty user_id")
			}
			if len(allowedTeams) == 0 && strings.TrimSpace(auth.TeamID) != "" {
				allowedTeams[strings.TrimSpace(auth.TeamID)] = true
			}

			var dir bot.Directory
			var resolver dest.AssigneeResolver
			if gdb != nil {
				svc, err := directory.New(gdb)
				if err != nil {
					return err
				}
				dir = &directoryAdapter{svc: svc}
				resolver = assigneeResolver(svc, logger)
			}

			syncer, err := dest.NewSyncer(dest.SyncerOptions{
				Client:   destClient,
				Pace:     setup.PaceFromViper(),
				Logger:   logger,
				Resolver: resolver,
			})
			if err != nil {
				return err
			}

			orch, err := bot.NewOrchestrator(bot.OrchestratorOptions{
				Store:     store,
				Extractor: extractor,
				Matcher:   setup.MatcherFromViper(logger),
				Syncer:    syncer,
				Messenger: api,
				Catalog:   destClient,
				Directory: dir,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			sweepCfg := bot.DefaultSweeperConfig()
			if tick := configutil.FlagOrViperDuration(cmd, "sweep-tick", "sweep.tick"); tick > 0 {
				sweepCfg.Tick = tick
			}
			if size := configutil.FlagOrViperInt(cmd, "sweep-batch-size", "sweep.batch_size"); size > 0 {
				sweepCfg.BatchSize = size
			}
			if delay := viper.GetDuration("sweep.entry_delay"); delay > 0 {
				sweepCfg.EntryDelay = delay
			}
			if stale := viper.GetDuration("sweep.stale_after"); stale > 0 {
				sweepCfg.StaleAfter = stale
			}
			sweepCfg.DigestChannel = strings.TrimSpace(configutil.FlagOrViperString(cmd, "digest-channel", "digest.channel"))
			if spec := strings.TrimSpace(viper.GetString("digest.cron")); spec != "" {
				sweepCfg.DigestCron = spec
			}

			sweeper, err := bot.NewSweeper(store, orch, api, sweepCfg, logger)
			if err != nil {
				return err
			}
			if err := sweeper.Start(cmd.Context()); err != nil {
				return err
			}
			defer sweeper.Wait()

			logger.Info("bot_start",
				"bot_user_id", botUserID,
				"allowed_team_ids", len(allowedTeams),
				"allowed_channel_ids", len(allowedChannels),
				"queue_backend", viper.GetString("queue.backend"),
				"sweep_tick", sweepCfg.Tick.String(),
			)

			for {
				if cmd.Context().Err() != nil {
					logger.Info("bot_stop", "reason", "context_canceled")
					return nil
				}
				conn, err := api.ConnectSocket(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						logger.Info("bot_stop", "reason", "context_canceled")
						return nil
					}
					logger.Warn("bot_socket_connect_error", "error", err.Error())
					if err := sleepBetweenConnects(cmd.Context()); err != nil {
						return nil
					}
					continue
				}
				logger.Info("bot_socket_connected")
				readErr := bot.ConsumeSocket(cmd.Context(), conn, func(envelope bot.SocketEnvelope) error {
					event, ok, err := bot.ParseEnvelope(envelope, botUserID)
					if err != nil {
						logger.Warn("bot_envelope_parse_error", "error", err.Error())
						return nil
					}
					if !ok {
						return nil
					}
					dispatch(cmd.Context(), logger, orch, botUserID, allowedTeams, allowedChannels, event)
					return nil
				})
				_ = conn.Close()
				if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
					logger.Warn("bot_socket_read_error", "error", readErr.Error())
				}
			}
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().StringArray("slack-allowed-team-id", nil, "Allowed Slack team id(s). If empty, defaults to the bot's home team.")
	cmd.Flags().StringArray("slack-allowed-channel-id", nil, "Allowed Slack channel id(s). If empty, allows all channels in allowed teams.")
	cmd.Flags().Duration("sweep-tick", 0, "Interval between retry sweeps (default 60s).")
	cmd.Flags().Int("sweep-batch-size", 0, "Max queue entries re-synced per sweep (default 5).")
	cmd.Flags().String("digest-channel", "", "Channel for the daily digest. Empty disables the digest.")

	return cmd
}

func dispatch(ctx context.Context, logger *slog.Logger, orch *bot.Orchestrator, botUserID string, allowedTeams, allowedChannels map[string]bool, event bot.InboundEvent) {
	switch {
	case event.Message != nil:
		ev := *event.Message
		if !allowed(allowedTeams, ev.TeamID) || !allowed(allowedChannels, ev.ChannelID) {
			return
		}
		if err := orch.HandleMessage(ctx, ev); err != nil {
			logger.Warn("bot_message_error", "channel_id", ev.ChannelID, "message_ts", ev.MessageTS, "error", err.Error())
		}
	case event.Reaction != nil:
		ev := *event.Reaction
		if !allowed(allowedTeams, ev.TeamID) || !allowed(allowedChannels, ev.ChannelID) {
			return
		}
		if err := orch.HandleReaction(ctx, ev); err != nil {
			logger.Warn("bot_reaction_error", "channel_id", ev.ChannelID, "item_ts", ev.ItemTS, "error", err.Error())
		}
	case event.MemberJoined != nil:
		ev := *event.MemberJoined
		if !allowed(allowedTeams, ev.TeamID) || !allowed(allowedChannels, ev.ChannelID) {
			return
		}
		if err := orch.HandleMemberJoined(ctx, ev, botUserID); err != nil {
			logger.Warn("bot_member_joined_error", "channel_id", ev.ChannelID, "error", err.Error())
		}
	}
}

// allowed treats an empty allowlist as allow-all. Reaction events carry no
// team id on some workspaces, so an empty value passes the team check.
func allowed(list map[string]bool, id string) bool {
	if len(list) == 0 || strings.TrimSpace(id) == "" {
		return true
	}
	return list[id]
}

func sleepBetweenConnects(ctx context.Context) error {
	t := time.NewTimer(2 * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toAllowlist(items []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range items {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

// directoryAdapter exposes the persisted user links and channel mappings
// through the orchestrator's Directory interface.
type directoryAdapter struct {
	svc *directory.Service
}

func (a *directoryAdapter) AssigneeFor(ctx context.Context, userID string) (string, error) {
	id, err := a.svc.AssigneeFor(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotLinked) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (a *directoryAdapter) RouteFor(ctx context.Context, teamID, channelID string) (*bot.ChannelRoute, error) {
	mapping, err := a.svc.MappingFor(ctx, teamID, channelID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, nil
	}
	return &bot.ChannelRoute{
		GroupID:   mapping.GroupID,
		GroupName: mapping.GroupName,
		ProjectID: mapping.ProjectID,
	}, nil
}

// assigneeResolver maps the extractor's assignee placeholders to destination
// user ids via the stored user links. Unknown assignees stay unassigned.
func assigneeResolver(svc *directory.Service, logger *slog.Logger) dest.AssigneeResolver {
	return func(ctx context.Context, assignee, sourceUserID string) string {
		slackUserID := strings.TrimSpace(sourceUserID)
		if assignee != "" && assignee != draft.AssigneeMessageAuthor && assignee != draft.AssigneeInferFromContext {
			// A concrete name from the message text has no Slack id to
			// look up; leave the task unassigned rather than guessing.
			return ""
		}
		if slackUserID == "" {
			return ""
		}
		id, err := svc.AssigneeFor(ctx, slackUserID)
		if err != nil {
			if !errors.Is(err, directory.ErrNotLinked) {
				logger.Warn("bot_assignee_lookup_error", "slack_user_id", slackUserID, "error", err.Error())
			}
			return ""
		}
		return id
	}
}
