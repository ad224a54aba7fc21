package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wainbox/wainbox/internal/cli"
	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/lifecycle"
	"github.com/wainbox/wainbox/internal/outfmt"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "List and manage conversations",
	}
	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsShowCmd())
	cmd.AddCommand(newConversationsClaimCmd())
	cmd.AddCommand(newConversationsTransferCmd())
	cmd.AddCommand(newConversationsCloseCmd())
	cmd.AddCommand(newConversationsReopenCmd())
	cmd.AddCommand(newConversationsMarkReadCmd())
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var (
		status string
		search string
		since  string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations ordered by recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter := inbox.StatusFilter(status)
			switch filter {
			case inbox.FilterAll, inbox.FilterNew, inbox.FilterActive, inbox.FilterResolved:
			default:
				return fmt.Errorf("invalid --status %q (use all, new, active, or resolved)", status)
			}

			var sinceAt time.Time
			if since != "" {
				var err error
				sinceAt, err = cli.ParseRelativeTime(since, time.Now())
				if err != nil {
					return err
				}
			}

			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			convs := sess.Conversations(ctx, filter, search)
			if !sinceAt.IsZero() {
				cutoff := sinceAt.UnixMilli()
				filtered := convs[:0]
				for _, c := range convs {
					if c.LastActivityAt() >= cutoff {
						filtered = append(filtered, c)
					}
				}
				convs = filtered
			}

			if outfmt.IsJSON(ctx) {
				views := make([]map[string]any, 0, len(convs))
				for i := range convs {
					views = append(views, conversationJSON(&convs[i]))
				}
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(views)
			}

			if len(convs) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No conversations found.")
				return nil
			}

			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			f.StartTable([]string{"ID", "CONTACT", "STATUS", "ASSIGNEE", "UNREAD", "LAST MESSAGE", "WHEN"})
			for i := range convs {
				c := &convs[i]
				assignee := "-"
				if c.Assignment.Assigned() {
					assignee = sess.AgentName(ctx, c.Assignment.AgentID)
				}
				preview := "-"
				when := "-"
				if c.LastMessage != nil {
					preview = truncate(c.LastMessage.Content, 40)
					when = formatTimestamp(c.LastMessage.At)
				}
				f.Row(c.ID, truncate(c.DisplayName(), 24), string(c.Status), assignee, unreadBadge(c.UnreadCount), preview, when)
			}
			return f.EndTable()
		},
	}

	cmd.Flags().StringVar(&status, "status", "all", "Filter by status: all|new|active|resolved")
	cmd.Flags().StringVar(&search, "search", "", "Free-text filter on contact name and phone")
	cmd.Flags().StringVar(&since, "since", "", "Only conversations with activity since (e.g. '2h ago', 'yesterday', RFC3339)")
	return cmd
}

func newConversationsShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show a conversation with its tags and recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			conv, ok := sess.Conversation(ctx, args[0])
			if !ok {
				return &inbox.ValidationError{Field: "conversation_id", Reason: fmt.Sprintf("unknown conversation %q", args[0])}
			}
			if err := sess.SelectConversation(ctx, conv.ID); err != nil {
				return err
			}
			messages := sess.Messages(ctx)
			tags := sess.TagsFor(ctx, conv.ID)
			if limit > 0 && len(messages) > limit {
				messages = messages[len(messages)-limit:]
			}

			if outfmt.IsJSON(ctx) {
				view := map[string]any{
					"conversation": conversationJSON(&conv),
					"tags":         tags,
					"messages":     messages,
				}
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(view)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s  (%s)\n", conv.DisplayName(), conv.Phone)
			_, _ = fmt.Fprintf(out, "Status: %s", conv.Status)
			if conv.Assignment.Assigned() {
				_, _ = fmt.Fprintf(out, "  Assignee: %s", sess.AgentName(ctx, conv.Assignment.AgentID))
			}
			if conv.UnreadCount > 0 {
				_, _ = fmt.Fprintf(out, "  Unread: %d", conv.UnreadCount)
			}
			_, _ = fmt.Fprintln(out)
			if len(tags) > 0 {
				_, _ = fmt.Fprint(out, "Tags:")
				for _, tag := range tags {
					_, _ = fmt.Fprintf(out, " %s", tag.Name)
				}
				_, _ = fmt.Fprintln(out)
			}
			_, _ = fmt.Fprintln(out)

			for i := range messages {
				m := &messages[i]
				sender := conv.DisplayName()
				if m.SenderClass == lifecycle.SenderAgent {
					sender = "agent"
				}
				content := m.Content
				if content == "" && m.Media != nil {
					content = m.ContentType.PreviewText(m.Media.Caption)
				}
				_, _ = fmt.Fprintf(out, "[%s] %s: %s", formatTimestamp(m.CreatedAt), sender, content)
				if m.SenderClass == lifecycle.SenderAgent {
					_, _ = fmt.Fprintf(out, "  (%s)", m.Status)
				}
				_, _ = fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages to show (0 for all)")
	return cmd
}

func newConversationsClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <conversation-id>",
		Short: "Assign a conversation to yourself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationUpdate(cmd, args[0], "Claimed", func(sess *inbox.Session) (inbox.Conversation, error) {
				return sess.Claim(cmd.Context(), args[0])
			})
		},
	}
}

func newConversationsTransferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <conversation-id> <agent-id>",
		Short: "Hand a conversation to another agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationUpdate(cmd, args[0], "Transferred", func(sess *inbox.Session) (inbox.Conversation, error) {
				return sess.Transfer(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newConversationsCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <conversation-id>",
		Short: "Resolve a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationUpdate(cmd, args[0], "Closed", func(sess *inbox.Session) (inbox.Conversation, error) {
				return sess.CloseConversation(cmd.Context(), args[0])
			})
		},
	}
}

func newConversationsReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <conversation-id>",
		Short: "Reopen a resolved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversationUpdate(cmd, args[0], "Reopened", func(sess *inbox.Session) (inbox.Conversation, error) {
				return sess.Reopen(cmd.Context(), args[0])
			})
		},
	}
}

func newConversationsMarkReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <conversation-id>",
		Short: "Clear the unread counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.MarkRead(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read.\n", args[0])
			return nil
		},
	}
}

// conversationJSON renders a conversation for JSON output with its
// working status, which the model itself does not marshal.
func conversationJSON(c *inbox.Conversation) map[string]any {
	doc := inbox.EncodeConversation(*c)
	doc["status"] = string(c.Status)
	return doc
}

func runConversationUpdate(cmd *cobra.Command, conversationID, verb string, op func(*inbox.Session) (inbox.Conversation, error)) error {
	ctx := cmd.Context()
	sess, _, err := buildSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	conv, err := op(sess)
	if err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(conversationJSON(&conv))
	}
	assignee := "-"
	if conv.Assignment.Assigned() {
		assignee = sess.AgentName(ctx, conv.Assignment.AgentID)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (status: %s, assignee: %s)\n", verb, conv.ID, conv.Status, assignee)
	return nil
}
