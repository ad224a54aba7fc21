package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/outfmt"
	"github.com/wainbox/wainbox/internal/validation"
)

func newSendCmd() *cobra.Command {
	var (
		replyTo   string
		mediaType string
		mediaURL  string
		mimeType  string
		caption   string
	)

	cmd := &cobra.Command{
		Use:   "send <conversation-id> [text]",
		Short: "Send a message into a conversation",
		Long: `Send a text or media message into a conversation.

The conversation must be assigned to you (claim it first) unless you are
an admin. Text messages take the message body as the second argument;
media messages take --media-type and --media-url instead.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conversationID := args[0]

			var text string
			if len(args) == 2 {
				text = args[1]
			}

			if mediaURL == "" && strings.TrimSpace(text) == "" {
				return fmt.Errorf("message text or --media-url is required")
			}
			if mediaURL != "" && text != "" {
				return fmt.Errorf("text body and --media-url cannot be combined; use --caption for media text")
			}
			if err := validation.ValidateMessageContent(text); err != nil {
				return err
			}
			if err := validation.ValidateCaption(caption); err != nil {
				return err
			}

			sess, _, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			var msg inbox.Message
			if mediaURL != "" {
				if err := validation.ValidateMediaURL(mediaURL); err != nil {
					return err
				}
				if mediaType == "" {
					return fmt.Errorf("--media-type is required with --media-url")
				}
				msg, err = sess.SendMedia(ctx, conversationID, inbox.ContentType(mediaType), inbox.MediaRef{
					URL:      mediaURL,
					MimeType: mimeType,
					Caption:  caption,
				})
			} else {
				msg, err = sess.SendText(ctx, conversationID, text, replyTo)
			}
			if err != nil {
				// A delivery failure still persisted the message; show
				// where it ended up before the error handler reports it.
				if inbox.IsDeliveryError(err) && msg.ID != "" {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Message %s saved with status %s.\n", msg.ID, msg.Status)
				}
				return err
			}

			if outfmt.IsJSON(ctx) {
				return outfmt.NewFormatter(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(msg)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %s (status: %s)\n", msg.ID, msg.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&replyTo, "reply-to", "", "Message id this message replies to")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media kind: image|audio|video|document")
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "URL of uploaded media to send")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type of the media")
	cmd.Flags().StringVar(&caption, "caption", "", "Caption shown with the media")
	return cmd
}
