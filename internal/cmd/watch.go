package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/outfmt"
	"github.com/wainbox/wainbox/internal/realtime"
	"github.com/wainbox/wainbox/internal/store"
)

const (
	watchBackoffMin = 2 * time.Second
	watchBackoffMax = 30 * time.Second
	// A connection that survives this long resets the backoff.
	watchStableAfter = 60 * time.Second
)

func newWatchCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow realtime changes as they happen",
		Long: `Stream conversation, message, and tag changes from the realtime feed.

Reconnects automatically with exponential backoff when the feed drops,
reloading state before resubscribing so nothing missed during the gap
goes unnoticed. Use --conversation to also stream one conversation's
messages. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, account, err := buildSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			sink := &watchSink{
				session: sess,
				out:     cmd.OutOrStdout(),
				jsonl:   outfmt.IsJSON(ctx) || outfmt.IsJSONL(ctx),
			}

			backoff := watchBackoffMin
			first := true
			for {
				feed, err := openFeed(account)
				if err != nil {
					return err
				}

				syncer := realtime.NewSyncer(feed, sink)
				dropped := make(chan struct{}, 1)
				syncer.OnDrop = func(store.Relation, error) {
					select {
					case dropped <- struct{}{}:
					default:
					}
				}

				startErr := syncer.Start(ctx)
				if startErr == nil && conversationID != "" {
					startErr = syncer.SelectConversation(ctx, conversationID)
				}
				if startErr != nil {
					syncer.Close()
					if ctx.Err() != nil {
						return nil
					}
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Feed unavailable (%v); retrying in %s...\n", startErr, backoff)
					if !sleepCtx(ctx, backoff) {
						return nil
					}
					backoff = nextBackoff(backoff)
					continue
				}

				if first {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes. Press Ctrl-C to stop.")
					first = false
				}
				connectedAt := time.Now()

				select {
				case <-ctx.Done():
					syncer.Close()
					return nil
				case <-dropped:
				}
				syncer.Close()

				if time.Since(connectedAt) >= watchStableAfter {
					backoff = watchBackoffMin
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Feed disconnected; reconnecting in %s...\n", backoff)
				if !sleepCtx(ctx, backoff) {
					return nil
				}
				backoff = nextBackoff(backoff)

				// Events were lost while disconnected, so refresh from the
				// store before the next subscription round.
				if err := sess.LoadConversations(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Reload failed: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Also stream this conversation's messages")
	return cmd
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > watchBackoffMax {
		d = watchBackoffMax
	}
	return d
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// watchSink feeds events into the session so its caches stay current,
// then prints a line per event.
type watchSink struct {
	session *inbox.Session
	out     io.Writer
	jsonl   bool

	mu sync.Mutex
}

func (w *watchSink) HandleEvent(ev store.Event) {
	w.session.HandleEvent(ev)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.jsonl {
		line, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w.out, "%s\n", line)
		return
	}
	_, _ = fmt.Fprintln(w.out, describeEvent(ev))
}

func describeEvent(ev store.Event) string {
	ts := time.Now().Format("15:04:05")
	switch ev.Relation {
	case store.Messages:
		var m inbox.Message
		if err := json.Unmarshal(ev.Row, &m); err == nil && m.ID != "" {
			content := m.Content
			if content == "" && m.Media != nil {
				content = m.ContentType.PreviewText(m.Media.Caption)
			}
			return fmt.Sprintf("[%s] message %s %s (%s): %s", ts, ev.Type, m.ID, m.Status, truncate(content, 60))
		}
	case store.Conversations:
		if c, err := inbox.DecodeConversation(ev.Row); err == nil && c.ID != "" {
			assignee := "-"
			if c.Assignment.Assigned() {
				assignee = c.Assignment.AgentID
			}
			return fmt.Sprintf("[%s] conversation %s %s: status=%s assignee=%s unread=%d", ts, ev.Type, c.ID, c.Status, assignee, c.UnreadCount)
		}
	case store.Tags:
		var t inbox.Tag
		if err := json.Unmarshal(ev.Row, &t); err == nil && t.Name != "" {
			return fmt.Sprintf("[%s] tag %s %q", ts, ev.Type, t.Name)
		}
	case store.ConversationTags:
		var join struct {
			ConversationID string `json:"conversation_id"`
			TagID          string `json:"tag_id"`
		}
		if err := json.Unmarshal(ev.Row, &join); err == nil && join.ConversationID != "" {
			return fmt.Sprintf("[%s] conversation %s tag %s: %s", ts, join.ConversationID, ev.Type, join.TagID)
		}
	case store.Agents:
		var a inbox.Agent
		if err := json.Unmarshal(ev.Row, &a); err == nil && a.ID != "" {
			return fmt.Sprintf("[%s] agent %s %s (%s)", ts, ev.Type, a.ID, a.Name)
		}
	}
	return fmt.Sprintf("[%s] %s %s %s", ts, ev.Relation, ev.Type, ev.RowID())
}
