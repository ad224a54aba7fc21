package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wainbox/wainbox/internal/config"
	"github.com/wainbox/wainbox/internal/gateway"
	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/store"
)

// errAlreadyHandled marks errors whose message has already been printed by
// the command itself; Execute skips the generic handler for them.
var errAlreadyHandled = errors.New("already handled")

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder

	var validationErr *inbox.ValidationError
	var permissionErr *inbox.PermissionError
	var deliveryErr *inbox.DeliveryError
	var persistErr *inbox.PersistError
	var fetchErr *inbox.FetchError
	var apiErr *gateway.APIError

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("Not configured.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: wainbox auth login\n")
		msg.WriteString("  - Or set WAINBOX_STORE_URL, WAINBOX_STORE_TOKEN, and WAINBOX_AGENT_ID")

	case errors.As(err, &validationErr):
		fmt.Fprintf(&msg, "Invalid input (%s): %s", validationErr.Field, validationErr.Reason)

	case errors.As(err, &permissionErr):
		fmt.Fprintf(&msg, "Not allowed: %s\n\n", permissionErr.Reason)
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Claim the conversation first: wainbox conversations claim <id>\n")
		msg.WriteString("  - Ask the current assignee to transfer it to you")

	case errors.Is(err, inbox.ErrDuplicateTag):
		msg.WriteString("Tag already applied to this conversation.")

	case errors.As(err, &deliveryErr):
		fmt.Fprintf(&msg, "Delivery failed: %s\n\n", deliveryErr.Error())
		msg.WriteString("The message was saved and is marked with an error status.\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the gateway status and retry by sending again\n")
		msg.WriteString("  - Verify the contact's phone number")

	case errors.As(err, &persistErr):
		fmt.Fprintf(&msg, "Write failed: %s\n\n", persistErr.Error())
		msg.WriteString("The optimistic change was rolled back.\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the store connection and retry\n")
		msg.WriteString("  - Use --debug to see the failing operation")

	case errors.As(err, &fetchErr):
		fmt.Fprintf(&msg, "Load failed: %s\n\n", fetchErr.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the store connection\n")
		msg.WriteString("  - Retry the command")

	case errors.Is(err, store.ErrNotFound):
		msg.WriteString("Not found.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the ID is correct\n")
		msg.WriteString("  - The record may have been deleted")

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "Gateway error (HTTP %d): %s\n\n", apiErr.StatusCode, apiErr.Body)
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the gateway URL and token: wainbox auth status\n")
		msg.WriteString("  - Use --debug to see the full request")

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check if the store and gateway are reachable\n")
		msg.WriteString("  - Verify the configured URLs: wainbox auth status\n")
		msg.WriteString("  - Check your network connection")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the configured URL spelling\n")
		msg.WriteString("  - Verify your DNS settings")

	default:
		fmt.Fprintf(&msg, "Error: %s", err.Error())
	}

	return msg.String()
}

// ExitWithError prints error with suggestions and exits
func ExitWithError(err error) {
	if err == nil {
		return
	}
	_, _ = fmt.Fprintln(os.Stderr, HandleError(err))
	os.Exit(ExitCode(err))
}
