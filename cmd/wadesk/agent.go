package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/logger"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage support agents",
	}
	cmd.AddCommand(newAgentAddCmd(), newAgentListCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an agent who can log in and receive conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			displayName, _ := cmd.Flags().GetString("display-name")
			password, _ := cmd.Flags().GetString("password")
			inactive, _ := cmd.Flags().GetBool("inactive")
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			log := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			active := !inactive
			agent, err := agents.NewService(log, st).Create(ctx, agents.CreateAgentRequest{
				Username:    username,
				DisplayName: displayName,
				Password:    password,
				Active:      &active,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created agent %s (%s)\n", agent.Username, agent.ID)
			return nil
		},
	}
	cmd.Flags().String("username", "", "login name")
	cmd.Flags().String("display-name", "", "name shown in the inbox (defaults to username)")
	cmd.Flags().String("password", "", "login password")
	cmd.Flags().Bool("inactive", false, "create the agent without enrolling it in assignment")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents in assignment order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := agents.NewService(logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format), st).List(ctx, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range items {
				state := "active"
				if !a.Active {
					state = "inactive"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", a.ID, a.Username, a.DisplayName, state)
			}
			return nil
		},
	}
}
