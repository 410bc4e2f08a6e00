// Package checkcmd verifies the deployment configuration end to end:
// Slack credentials, destination API reachability, and the LLM endpoint.
package checkcmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/taskporter/bot"
	"github.com/quailyquaily/taskporter/internal/configutil"
	"github.com/quailyquaily/taskporter/internal/setup"
	"github.com/quailyquaily/taskporter/llm"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify Slack, destination, and LLM configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			failures := 0

			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			switch {
			case botToken == "":
				failures++
				fmt.Println("slack: FAIL (missing slack.bot_token)")
			case appToken == "":
				failures++
				fmt.Println("slack: FAIL (missing slack.app_token)")
			default:
				api := bot.NewSlackAPI(&http.Client{Timeout: 15 * time.Second}, "https://slack.com/api", botToken, appToken)
				auth, err := api.AuthTest(ctx)
				if err != nil {
					failures++
					fmt.Printf("slack: FAIL (%v)\n", err)
				} else {
					fmt.Printf("slack: OK (bot %s, team %s)\n", auth.UserID, auth.TeamID)
				}
			}

			destClient, err := setup.DestClientFromViper()
			if err != nil {
				failures++
				fmt.Printf("destination: FAIL (%v)\n", err)
			} else {
				groups, err := destClient.Groups(ctx)
				if err != nil {
					failures++
					fmt.Printf("destination: FAIL (%v)\n", err)
				} else {
					fmt.Printf("destination: OK (%d groups)\n", len(groups))
					if len(groups) > 0 {
						projects, perr := destClient.GroupProjects(ctx, groups[0].ID)
						users, uerr := destClient.GroupUsers(ctx, groups[0].ID)
						if perr != nil || uerr != nil {
							failures++
							fmt.Printf("destination catalog: FAIL (projects: %v, users: %v)\n", perr, uerr)
						} else {
							fmt.Printf("destination catalog: OK (group %q: %d projects, %d users)\n", groups[0].Name, len(projects), len(users))
						}
					}
				}
			}

			llmClient, model, err := setup.LLMClientFromViper()
			if err != nil {
				failures++
				fmt.Printf("llm: FAIL (%v)\n", err)
			} else {
				resp, err := llmClient.Chat(ctx, llm.Request{
					Model:     model,
					Messages:  []llm.Message{{Role: "user", Content: "ping"}},
					MaxTokens: 1,
				})
				if err != nil {
					failures++
					fmt.Printf("llm: FAIL (%v)\n", err)
				} else {
					fmt.Printf("llm: OK (model %s, %s)\n", model, resp.Duration.Round(time.Millisecond))
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			fmt.Println("all checks passed")
			return nil
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	return cmd
}
