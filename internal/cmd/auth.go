package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wainbox/wainbox/internal/config"
	"github.com/wainbox/wainbox/internal/outfmt"
	"github.com/wainbox/wainbox/internal/validation"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage workspace credentials",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthProfilesCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		storeURL     string
		storeToken   string
		realtimeURL  string
		gatewayURL   string
		gatewayToken string
		agentID      string
		redisAddr    string
		profile      string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store workspace credentials in the OS keychain",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeURL = strings.TrimSpace(storeURL)
			agentID = strings.TrimSpace(agentID)
			if storeURL == "" {
				return fmt.Errorf("--store-url is required")
			}
			if agentID == "" {
				return fmt.Errorf("--agent-id is required")
			}
			if !strings.HasPrefix(storeURL, "postgres://") && !strings.HasPrefix(storeURL, "postgresql://") {
				return fmt.Errorf("--store-url must be a postgres:// connection URL")
			}
			if realtimeURL != "" {
				if err := validation.ValidateRealtimeURL(realtimeURL); err != nil {
					return fmt.Errorf("invalid --realtime-url: %w", err)
				}
			}
			if gatewayURL != "" {
				if err := validation.ValidateEndpointURL(gatewayURL); err != nil {
					return fmt.Errorf("invalid --gateway-url: %w", err)
				}
			}

			account := config.Account{
				StoreURL:     storeURL,
				StoreToken:   strings.TrimSpace(storeToken),
				RealtimeURL:  strings.TrimSpace(realtimeURL),
				GatewayURL:   strings.TrimSuffix(strings.TrimSpace(gatewayURL), "/"),
				GatewayToken: strings.TrimSpace(gatewayToken),
				AgentID:      agentID,
				RedisAddr:    strings.TrimSpace(redisAddr),
			}
			if err := config.SaveProfile(profile, account); err != nil {
				return err
			}

			name := profile
			if name == "" {
				name = "default"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved to profile %q.\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&storeURL, "store-url", "", "Postgres connection URL for the conversation store (required)")
	cmd.Flags().StringVar(&storeToken, "store-token", "", "Bearer token for the realtime change relay")
	cmd.Flags().StringVar(&realtimeURL, "realtime-url", "", "Websocket URL of the realtime change relay (ws:// or wss://)")
	cmd.Flags().StringVar(&gatewayURL, "gateway-url", "", "Base URL of the WhatsApp gateway")
	cmd.Flags().StringVar(&gatewayToken, "gateway-token", "", "Bearer token for the WhatsApp gateway")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Acting agent id (required)")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for agent presence (host:port)")
	cmd.Flags().StringVar(&profile, "profile", "", "Profile name to store credentials under")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile == "" {
				if err := config.DeleteAccount(); err != nil {
					return err
				}
			} else if err := config.DeleteProfile(profile); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials removed.")
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Profile to remove (default profile when omitted)")
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active account configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			account, err := config.LoadAccount()
			if err != nil {
				return err
			}

			if outfmt.IsJSON(ctx) {
				view := map[string]any{
					"store_url":    account.StoreURL,
					"realtime_url": account.RealtimeURL,
					"gateway_url":  account.GatewayURL,
					"agent_id":     account.AgentID,
					"redis_addr":   account.RedisAddr,
					"store_token":  maskToken(account.StoreToken),
				}
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(view)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Store URL:    %s\n", account.StoreURL)
			_, _ = fmt.Fprintf(out, "Realtime URL: %s\n", valueOrUnset(account.RealtimeURL))
			_, _ = fmt.Fprintf(out, "Gateway URL:  %s\n", valueOrUnset(account.GatewayURL))
			_, _ = fmt.Fprintf(out, "Agent ID:     %s\n", account.AgentID)
			_, _ = fmt.Fprintf(out, "Redis:        %s\n", valueOrUnset(account.RedisAddr))
			_, _ = fmt.Fprintf(out, "Store token:  %s\n", maskToken(account.StoreToken))
			return nil
		},
	}
}

func newAuthProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List stored profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := config.ListProfiles()
			if err != nil {
				return err
			}
			current, err := config.CurrentProfile()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if outfmt.IsJSON(ctx) {
				view := map[string]any{"profiles": profiles, "current": current}
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(view)
			}

			if len(profiles) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No profiles stored. Run 'wainbox auth login' first.")
				return nil
			}
			for _, p := range profiles {
				marker := " "
				if p == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, p)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "use <name>",
		Short: "Switch the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SetCurrentProfile(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Switched to profile %q.\n", args[0])
			return nil
		},
	})
	return cmd
}

func maskToken(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func valueOrUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
