// Package dircmd manages user links and channel mappings.
package dircmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/taskporter/db/models"
	"github.com/quailyquaily/taskporter/directory"
	"github.com/quailyquaily/taskporter/internal/setup"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage Slack user links and channel mappings",
	}
	cmd.AddCommand(newLinkUserCmd())
	cmd.AddCommand(newUnlinkUserCmd())
	cmd.AddCommand(newMapChannelCmd())
	return cmd
}

func openService() (*directory.Service, error) {
	_, gdb, err := setup.OpenQueueStore()
	if err != nil {
		return nil, err
	}
	if gdb == nil {
		return nil, fmt.Errorf("directory commands need a database queue backend (queue.backend sqlite or postgres)")
	}
	return directory.New(gdb)
}

func newLinkUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link-user <slack-user-id> <dest-user-id>",
		Short: "Link a Slack user to a destination user id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			if _, err := svc.LinkUser(cmd.Context(), models.UserLink{
				SlackUserID: strings.TrimSpace(args[0]),
				DestUserID:  strings.TrimSpace(args[1]),
				SlackName:   strings.TrimSpace(name),
				DestEmail:   strings.TrimSpace(email),
			}); err != nil {
				return err
			}
			fmt.Printf("linked %s -> %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().String("name", "", "Slack display name, for readability.")
	cmd.Flags().String("email", "", "Destination account email, for readability.")
	return cmd
}

func newUnlinkUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink-user <slack-user-id>",
		Short: "Remove a Slack user link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			if err := svc.UnlinkUser(cmd.Context(), strings.TrimSpace(args[0])); err != nil {
				return err
			}
			fmt.Printf("unlinked %s\n", args[0])
			return nil
		},
	}
}

func newMapChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map-channel <team-id> <channel-id> <group-id>",
		Short: "Pin a channel's tasks to one destination group",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			groupName, _ := cmd.Flags().GetString("group-name")
			projectID, _ := cmd.Flags().GetString("project-id")
			if _, err := svc.MapChannel(cmd.Context(), models.ChannelMapping{
				TeamID:    strings.TrimSpace(args[0]),
				ChannelID: strings.TrimSpace(args[1]),
				GroupID:   strings.TrimSpace(args[2]),
				GroupName: strings.TrimSpace(groupName),
				ProjectID: strings.TrimSpace(projectID),
			}); err != nil {
				return err
			}
			fmt.Printf("mapped %s/%s -> group %s\n", args[0], args[1], args[2])
			return nil
		},
	}
	cmd.Flags().String("group-name", "", "Group name shown in previews.")
	cmd.Flags().String("project-id", "", "Optional project inside the group.")
	return cmd
}
