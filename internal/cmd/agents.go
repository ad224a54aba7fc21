package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wainbox/wainbox/internal/identity"
	"github.com/wainbox/wainbox/internal/outfmt"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List console agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, account, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			agents := sess.Agents(ctx)

			// Presence is optional; without Redis every agent shows offline.
			if account.RedisAddr != "" {
				presence := identity.NewPresence(account.RedisAddr, "", 0)
				defer func() { _ = presence.Close() }()
				for i := range agents {
					online, err := presence.Online(ctx, agents[i].ID)
					if err != nil {
						break
					}
					agents[i].Online = online
				}
			}

			if outfmt.IsJSON(ctx) {
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(agents)
			}

			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No agents found.")
				return nil
			}
			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			f.StartTable([]string{"ID", "NAME", "ROLE", "ONLINE"})
			for _, agent := range agents {
				online := "-"
				if agent.Online {
					online = "yes"
				}
				name := agent.Name
				if agent.ID == sess.Acting().ID {
					name += " (you)"
				}
				f.Row(agent.ID, name, string(agent.Role), online)
			}
			return f.EndTable()
		},
	}
	return cmd
}
