package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wainbox/wainbox/internal/outfmt"
)

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage the tag vocabulary and conversation tags",
	}
	cmd.AddCommand(newTagsListCmd())
	cmd.AddCommand(newTagsApplyCmd())
	cmd.AddCommand(newTagsRemoveCmd())
	return cmd
}

func newTagsListCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the tag vocabulary, or one conversation's tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			tags := sess.TagVocabulary(ctx)
			if conversationID != "" {
				tags = sess.TagsFor(ctx, conversationID)
			}

			if outfmt.IsJSON(ctx) {
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(tags)
			}

			if len(tags) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No tags found.")
				return nil
			}
			f := outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
			f.StartTable([]string{"NAME", "COLOR", "DESCRIPTION"})
			for _, tag := range tags {
				color := tag.Color
				if color == "" {
					color = "-"
				}
				f.Row(tag.Name, color, truncate(tag.Description, 50))
			}
			return f.EndTable()
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "List tags applied to this conversation instead")
	return cmd
}

func newTagsApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <conversation-id> <tag-name>",
		Short: "Apply a vocabulary tag to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.ApplyTag(ctx, args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Applied %q to %s.\n", args[1], args[0])
			return nil
		},
	}
}

func newTagsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <conversation-id> <tag-name>",
		Short: "Remove a tag from a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.RemoveTag(ctx, args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %q from %s.\n", args[1], args[0])
			return nil
		},
	}
}
