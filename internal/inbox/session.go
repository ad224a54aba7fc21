package inbox

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wainbox/wainbox/internal/lifecycle"
	"github.com/wainbox/wainbox/internal/store"
)

// Session is the single-writer core of one agent's console. All state —
// the conversation list, the selected conversation's message log, tags,
// and the agent directory — is mutated only on the session's writer
// goroutine, fed by a task queue. Network calls (store, gateway) run
// off that goroutine, so realtime events keep flowing during an await;
// every step after an await re-validates what it is about to touch,
// because the world may have moved.
type Session struct {
	acting Agent
	st     store.Store
	out    *Outbound

	convs  *ConversationStore
	msgs   *MessageStore
	tags   *TagStore
	agents map[string]Agent

	tasks  chan func()
	quit   chan struct{}
	closed chan struct{}

	now func() time.Time
}

// NewSession builds a session for the acting agent and starts its
// writer goroutine. Close releases it.
func NewSession(st store.Store, out *Outbound, acting Agent) *Session {
	s := &Session{
		acting: acting,
		st:     st,
		out:    out,
		convs:  NewConversationStore(),
		msgs:   NewMessageStore(),
		tags:   NewTagStore(),
		agents: make(map[string]Agent),
		tasks:  make(chan func(), 64),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
		now:    time.Now,
	}
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.closed)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			// Drain what was queued before the close.
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close stops the writer goroutine. Queued tasks finish first; tasks
// submitted after Close are dropped.
func (s *Session) Close() {
	close(s.quit)
	<-s.closed
}

// do runs fn on the writer goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.tasks <- func() { fn(); close(done) }:
	case <-s.quit:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent feeds one realtime change into the session. It is the
// only entry point the feed adapter needs; routing by relation happens
// on the writer goroutine, so events and local mutations interleave at
// step boundaries only.
func (s *Session) HandleEvent(ev store.Event) {
	select {
	case s.tasks <- func() { s.applyEvent(ev) }:
	case <-s.quit:
	}
}

func (s *Session) applyEvent(ev store.Event) {
	switch ev.Relation {
	case store.Conversations:
		s.convs.ApplyChange(ev)
	case store.Messages:
		s.msgs.Receive(ev)
	case store.Tags, store.ConversationTags:
		s.tags.ApplyChange(ev)
	case store.Agents:
		var a Agent
		if err := json.Unmarshal(ev.Row, &a); err != nil || a.ID == "" {
			return
		}
		if ev.Type == store.EventDelete {
			delete(s.agents, a.ID)
			return
		}
		s.agents[a.ID] = a
	}
}

// Acting returns the session's agent.
func (s *Session) Acting() Agent { return s.acting }

// AgentName resolves an agent id to its display name, falling back to
// the raw id.
func (s *Session) AgentName(ctx context.Context, id string) string {
	name := id
	_ = s.do(ctx, func() {
		if a, ok := s.agents[id]; ok && a.Name != "" {
			name = a.Name
		}
	})
	return name
}

// Bootstrap loads the conversation list, the tag vocabulary and joins,
// and the agent directory. The fetches run concurrently; installation
// happens on the writer goroutine and merges with any events that
// arrived while the fetches were in flight.
func (s *Session) Bootstrap(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.LoadConversations(ctx) })
	g.Go(func() error { return s.loadTags(ctx) })
	g.Go(func() error { return s.loadAgents(ctx) })
	return g.Wait()
}

// LoadConversations fetches the full conversation list and merges it
// into the store. A change event that raced the fetch wins over the
// fetched row; on error, local state is untouched.
func (s *Session) LoadConversations(ctx context.Context) error {
	var gen uint64
	if err := s.do(ctx, func() { gen = s.convs.BeginLoad() }); err != nil {
		return err
	}

	rows, err := s.st.Select(ctx, store.Conversations, nil, store.Order{Field: "updated_at", Desc: true})
	if err != nil {
		return &FetchError{Relation: store.Conversations, Err: err}
	}
	convs := make([]Conversation, 0, len(rows))
	for _, raw := range rows {
		c, err := DecodeConversation(raw)
		if err != nil || c.ID == "" {
			continue
		}
		convs = append(convs, c)
	}

	return s.do(ctx, func() { s.convs.CompleteLoad(gen, convs) })
}

func (s *Session) loadTags(ctx context.Context) error {
	tagRows, err := s.st.Select(ctx, store.Tags, nil, store.Order{Field: "name"})
	if err != nil {
		return &FetchError{Relation: store.Tags, Err: err}
	}
	joinRows, err := s.st.Select(ctx, store.ConversationTags, nil, store.Order{})
	if err != nil {
		return &FetchError{Relation: store.ConversationTags, Err: err}
	}

	tags := make([]Tag, 0, len(tagRows))
	for _, raw := range tagRows {
		var t Tag
		if err := json.Unmarshal(raw, &t); err == nil && t.ID != "" {
			tags = append(tags, t)
		}
	}
	joins := make([]ConversationTag, 0, len(joinRows))
	for _, raw := range joinRows {
		var r ConversationTag
		if err := json.Unmarshal(raw, &r); err == nil && r.ConversationID != "" {
			joins = append(joins, r)
		}
	}

	return s.do(ctx, func() {
		s.tags.ReplaceVocabulary(tags)
		s.tags.ReplaceJoins(joins)
	})
}

func (s *Session) loadAgents(ctx context.Context) error {
	rows, err := s.st.Select(ctx, store.Agents, nil, store.Order{Field: "name"})
	if err != nil {
		return &FetchError{Relation: store.Agents, Err: err}
	}
	agents := make(map[string]Agent, len(rows))
	for _, raw := range rows {
		var a Agent
		if err := json.Unmarshal(raw, &a); err == nil && a.ID != "" {
			agents[a.ID] = a
		}
	}
	return s.do(ctx, func() {
		s.agents = agents
		if a, ok := agents[s.acting.ID]; ok {
			s.acting = a
		}
	})
}

// SelectConversation switches the message log to the given conversation
// and loads its history. The log is reset before the fetch, so events
// for the newly selected conversation are not dropped while history is
// in flight, and entries from the previous one never bleed through.
func (s *Session) SelectConversation(ctx context.Context, conversationID string) error {
	if err := s.do(ctx, func() { s.msgs.Reset(conversationID) }); err != nil {
		return err
	}

	rows, err := s.st.Select(ctx, store.Messages,
		store.Filter{"conversation_id": conversationID},
		store.Order{Field: "created_at"})
	if err != nil {
		return &FetchError{Relation: store.Messages, Err: err}
	}
	msgs := make([]Message, 0, len(rows))
	for _, raw := range rows {
		m, err := DecodeMessage(raw)
		if err != nil || m.ID == "" {
			continue
		}
		msgs = append(msgs, m)
	}

	return s.do(ctx, func() {
		// The selection may have moved again while history was loading.
		if s.msgs.ConversationID() != conversationID {
			return
		}
		s.msgs.ReplaceFromLoad(conversationID, msgs)
	})
}

// Conversations returns the filtered, ordered conversation list.
func (s *Session) Conversations(ctx context.Context, status StatusFilter, query string) []Conversation {
	var out []Conversation
	_ = s.do(ctx, func() { out = s.convs.Filter(status, query) })
	return out
}

// Conversation returns one conversation by id.
func (s *Session) Conversation(ctx context.Context, id string) (Conversation, bool) {
	var (
		c  Conversation
		ok bool
	)
	_ = s.do(ctx, func() { c, ok = s.convs.Get(id) })
	return c, ok
}

// Messages returns the selected conversation's log in order.
func (s *Session) Messages(ctx context.Context) []Message {
	var out []Message
	_ = s.do(ctx, func() { out = s.msgs.Messages() })
	return out
}

// TagsFor returns the tags applied to a conversation.
func (s *Session) TagsFor(ctx context.Context, conversationID string) []Tag {
	var out []Tag
	_ = s.do(ctx, func() { out = s.tags.TagsFor(conversationID) })
	return out
}

// TagVocabulary returns all known tags.
func (s *Session) TagVocabulary(ctx context.Context) []Tag {
	var out []Tag
	_ = s.do(ctx, func() { out = s.tags.Vocabulary() })
	return out
}

// Agents returns the agent directory.
func (s *Session) Agents(ctx context.Context) []Agent {
	var out []Agent
	_ = s.do(ctx, func() {
		out = make([]Agent, 0, len(s.agents))
		for _, a := range s.agents {
			out = append(out, a)
		}
	})
	return out
}

// SendText sends a plain text message on the selected conversation.
// The returned message carries the server-issued id and final status.
func (s *Session) SendText(ctx context.Context, conversationID, text, replyToID string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	return s.send(ctx, conversationID, Message{
		Content:     text,
		ContentType: ContentText,
		ReplyToID:   replyToID,
	})
}

// SendMedia sends a media message with an optional caption.
func (s *Session) SendMedia(ctx context.Context, conversationID string, kind ContentType, media MediaRef) (Message, error) {
	if !kind.Valid() || kind == ContentText {
		return Message{}, &ValidationError{Field: "content_type", Reason: "unknown media type"}
	}
	if strings.TrimSpace(media.URL) == "" {
		return Message{}, &ValidationError{Field: "media.url", Reason: "must not be empty"}
	}
	m := media
	return s.send(ctx, conversationID, Message{
		Content:     kind.PreviewText(media.Caption),
		ContentType: kind,
		Media:       &m,
	})
}

// send is the optimistic write pipeline: gate check and local append on
// the writer goroutine, then persist, then deliver, folding each
// outcome back into the log. Every await is followed by re-validation
// against current state.
func (s *Session) send(ctx context.Context, conversationID string, draft Message) (Message, error) {
	draft.ID = NewTempID()
	draft.ClientToken = NewClientToken()
	draft.ConversationID = conversationID
	draft.SenderClass = lifecycle.SenderAgent
	draft.Status = lifecycle.SenderAgent.InitialStatus()
	draft.CreatedAt = s.now().UnixMilli()

	var (
		conv    Conversation
		gateErr error
	)
	if err := s.do(ctx, func() {
		var ok bool
		conv, ok = s.convs.Get(conversationID)
		if d := CanSend(conversationPtr(conv, ok), s.acting, s.resolver()); !d.Allowed {
			gateErr = &PermissionError{Reason: d.Reason}
			return
		}
		if s.msgs.ConversationID() == conversationID {
			s.msgs.Append(draft)
		}
	}); err != nil {
		return Message{}, err
	}
	if gateErr != nil {
		return Message{}, gateErr
	}

	raw, err := s.st.Insert(ctx, store.Messages, encodeNewMessage(draft))
	if err != nil {
		_ = s.do(context.Background(), func() { s.msgs.Remove(draft.ID) })
		return Message{}, &PersistError{Relation: store.Messages, Err: err}
	}
	persisted, decErr := DecodeMessage(raw)
	if decErr != nil || persisted.ID == "" {
		_ = s.do(context.Background(), func() { s.msgs.Remove(draft.ID) })
		return Message{}, &PersistError{Relation: store.Messages, Err: decErr}
	}
	// Backends that do not echo every field back still must not lose
	// the correlation token or the optimistic status.
	persisted.ClientToken = draft.ClientToken
	if persisted.Status == "" {
		persisted.Status = draft.Status
	}

	if err := s.do(ctx, func() {
		if !s.msgs.ResolvePersist(draft.ID, persisted) {
			// The realtime echo beat the persist response and already
			// superseded the temporary entry; adopt whatever status it
			// advanced to.
			if cur, ok := s.msgs.Get(persisted.ID); ok {
				persisted = cur
			}
		}
		s.touchSummary(conv.ID, persisted)
	}); err != nil {
		return persisted, err
	}

	gatewayID, dErr := s.out.Deliver(ctx, conv, persisted)
	if dErr != nil {
		_ = s.do(context.Background(), func() {
			s.msgs.SetStatus(persisted.ID, lifecycle.MessageError)
		})
		// Best effort; the message stays persisted as a failed attempt.
		_, _ = s.st.Update(context.Background(), store.Messages, persisted.ID,
			map[string]any{"status": string(lifecycle.MessageError)})
		persisted.Status = lifecycle.MessageError
		return persisted, dErr
	}

	// The log only tracks the selected conversation; a send into any
	// other one still folds the success back as sent.
	persisted.Status = lifecycle.MessageSent
	_ = s.do(ctx, func() {
		if s.msgs.SetStatus(persisted.ID, lifecycle.MessageSent) {
			return
		}
		if cur, ok := s.msgs.Get(persisted.ID); ok {
			// A delivery receipt already advanced it further.
			persisted.Status = cur.Status
		}
	})
	if _, err := s.st.Update(ctx, store.Messages, persisted.ID, map[string]any{
		"status":     string(persisted.Status),
		"gateway_id": gatewayID,
	}); err != nil {
		// The send itself succeeded; a lost status write is corrected
		// by the next realtime update or reload.
		return persisted, nil
	}
	persisted.GatewayID = gatewayID
	return persisted, nil
}

// touchSummary refreshes the conversation's last-message preview after
// a local send, without waiting for the realtime echo.
func (s *Session) touchSummary(conversationID string, m Message) {
	c, ok := s.convs.Get(conversationID)
	if !ok {
		return
	}
	if c.LastMessage != nil && c.LastMessage.At > m.CreatedAt {
		return
	}
	c.LastMessage = &MessageSummary{Content: m.Content, At: m.CreatedAt}
	c.UpdatedAt = m.CreatedAt
	s.convs.Put(c)
}

// MarkRead resets the conversation's unread counter to zero. The reset
// is applied optimistically; if the write fails, the row is refetched
// so the local counter matches the stored one again.
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	var found bool
	if err := s.do(ctx, func() { found = s.convs.ZeroUnread(conversationID) }); err != nil {
		return err
	}
	if !found {
		return &ValidationError{Field: "conversation", Reason: "not found"}
	}

	if _, err := s.st.Update(ctx, store.Conversations, conversationID,
		map[string]any{"unread_count": 0}); err != nil {
		s.resyncConversation(conversationID)
		return &PersistError{Relation: store.Conversations, Err: err}
	}
	return nil
}

// resyncConversation refetches one row after a failed optimistic write.
// Best effort: a failed refetch leaves the optimistic value in place
// until the next reload.
func (s *Session) resyncConversation(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.st.Select(ctx, store.Conversations, store.Filter{"id": conversationID}, store.Order{})
	if err != nil || len(rows) == 0 {
		return
	}
	c, err := DecodeConversation(rows[0])
	if err != nil || c.ID == "" {
		return
	}
	_ = s.do(ctx, func() { s.convs.Put(c) })
}

// Claim assigns an unassigned conversation to the acting agent and
// activates it. Claiming over someone else's assignment requires the
// admin role; Transfer is the explicit path for reassignment.
func (s *Session) Claim(ctx context.Context, conversationID string) (Conversation, error) {
	return s.updateConversation(ctx, conversationID, func(c *Conversation) error {
		if c.Assignment.Assigned() && c.Assignment.AgentID != s.acting.ID && s.acting.Role != lifecycle.RoleAdmin {
			return &PermissionError{Reason: "assigned to " + s.displayName(c.Assignment.AgentID)}
		}
		if c.Status == lifecycle.ConversationResolved {
			return &PermissionError{Reason: "conversation closed"}
		}
		c.Assignment = AssignedTo(s.acting.ID, s.now())
		if c.Status.CanTransition(lifecycle.ConversationActive) {
			c.Status = lifecycle.ConversationActive
		}
		return nil
	})
}

// Transfer reassigns the conversation to another agent. Only the
// current assignee or an admin may transfer; the target must be a
// known agent.
func (s *Session) Transfer(ctx context.Context, conversationID, toAgentID string) (Conversation, error) {
	return s.updateConversation(ctx, conversationID, func(c *Conversation) error {
		if _, ok := s.agents[toAgentID]; !ok {
			return &ValidationError{Field: "agent", Reason: "unknown agent"}
		}
		if d := CanSend(c, s.acting, s.resolver()); !d.Allowed {
			return &PermissionError{Reason: d.Reason}
		}
		c.Assignment = AssignedTo(toAgentID, s.now())
		return nil
	})
}

// CloseConversation resolves the conversation. The assignment is kept
// so history shows who handled it.
func (s *Session) CloseConversation(ctx context.Context, conversationID string) (Conversation, error) {
	return s.updateConversation(ctx, conversationID, func(c *Conversation) error {
		if d := CanSend(c, s.acting, s.resolver()); !d.Allowed {
			return &PermissionError{Reason: d.Reason}
		}
		if !c.Status.CanTransition(lifecycle.ConversationResolved) {
			return &ValidationError{Field: "status", Reason: "already resolved"}
		}
		c.Status = lifecycle.ConversationResolved
		return nil
	})
}

// Reopen moves a resolved conversation back to active, keeping its
// assignment. A conversation assigned to someone else needs the admin
// role to reopen.
func (s *Session) Reopen(ctx context.Context, conversationID string) (Conversation, error) {
	return s.updateConversation(ctx, conversationID, func(c *Conversation) error {
		if c.Status != lifecycle.ConversationResolved || !c.Status.CanTransition(lifecycle.ConversationActive) {
			return &ValidationError{Field: "status", Reason: "not resolved"}
		}
		if c.Assignment.Assigned() && c.Assignment.AgentID != s.acting.ID && s.acting.Role != lifecycle.RoleAdmin {
			return &PermissionError{Reason: "assigned to " + s.displayName(c.Assignment.AgentID)}
		}
		c.Status = lifecycle.ConversationActive
		return nil
	})
}

// updateConversation is the shared optimistic-update pipeline for
// lifecycle and assignment writes: mutate a copy under the gate on the
// writer goroutine, install it optimistically, persist, and refetch on
// failure. The mutation runs at the point of write, so a state change
// that landed after the caller looked at the list is still honored.
func (s *Session) updateConversation(ctx context.Context, conversationID string, mutate func(*Conversation) error) (Conversation, error) {
	var (
		updated Conversation
		opErr   error
	)
	if err := s.do(ctx, func() {
		c, ok := s.convs.Get(conversationID)
		if !ok {
			opErr = &ValidationError{Field: "conversation", Reason: "not found"}
			return
		}
		if opErr = mutate(&c); opErr != nil {
			return
		}
		c.UpdatedAt = s.now().UnixMilli()
		s.convs.Put(c)
		updated = c
	}); err != nil {
		return Conversation{}, err
	}
	if opErr != nil {
		return Conversation{}, opErr
	}

	patch := map[string]any{
		"status":     string(updated.Status.Persisted()),
		"assignment": updated.Assignment,
		"updated_at": updated.UpdatedAt,
	}
	if _, err := s.st.Update(ctx, store.Conversations, conversationID, patch); err != nil {
		s.resyncConversation(conversationID)
		return Conversation{}, &PersistError{Relation: store.Conversations, Err: err}
	}
	return updated, nil
}

// ApplyTag applies a tag (by name) to a conversation. Applying a tag
// that is already present returns ErrDuplicateTag and writes nothing.
func (s *Session) ApplyTag(ctx context.Context, conversationID, tagName string) error {
	var (
		tag   Tag
		opErr error
	)
	if err := s.do(ctx, func() {
		if _, ok := s.convs.Get(conversationID); !ok {
			opErr = &ValidationError{Field: "conversation", Reason: "not found"}
			return
		}
		var found bool
		tag, found = s.tags.TagByName(tagName)
		if !found {
			opErr = &ValidationError{Field: "tag", Reason: "unknown tag " + tagName}
			return
		}
		if s.tags.Has(conversationID, tag.ID) {
			opErr = ErrDuplicateTag
		}
	}); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	raw, err := s.st.Insert(ctx, store.ConversationTags, map[string]any{
		"conversation_id": conversationID,
		"tag_id":          tag.ID,
		"applied_by":      s.acting.ID,
		"applied_at":      s.now().UnixMilli(),
	})
	if err != nil {
		return &PersistError{Relation: store.ConversationTags, Err: err}
	}
	var row ConversationTag
	if err := json.Unmarshal(raw, &row); err != nil || row.ID == "" {
		row = ConversationTag{ConversationID: conversationID, TagID: tag.ID}
	}
	return s.do(ctx, func() { s.tags.AddJoin(row) })
}

// RemoveTag removes a tag (by name) from a conversation. Removing a tag
// that is not applied is a no-op.
func (s *Session) RemoveTag(ctx context.Context, conversationID, tagName string) error {
	var (
		joinID string
		tagID  string
		opErr  error
	)
	if err := s.do(ctx, func() {
		tag, found := s.tags.TagByName(tagName)
		if !found {
			opErr = &ValidationError{Field: "tag", Reason: "unknown tag " + tagName}
			return
		}
		tagID = tag.ID
		joinID, _ = s.tags.JoinID(conversationID, tag.ID)
	}); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}
	if joinID == "" {
		return nil
	}

	if err := s.st.Delete(ctx, store.ConversationTags, joinID); err != nil {
		return &PersistError{Relation: store.ConversationTags, Err: err}
	}
	return s.do(ctx, func() { s.tags.RemoveJoin(conversationID, tagID) })
}

// resolver builds the gate's agent-name resolver over the directory.
// Runs on the writer goroutine only.
func (s *Session) resolver() NameResolver {
	return func(agentID string) string { return s.displayName(agentID) }
}

func (s *Session) displayName(agentID string) string {
	if a, ok := s.agents[agentID]; ok && a.Name != "" {
		return a.Name
	}
	return agentID
}

func conversationPtr(c Conversation, ok bool) *Conversation {
	if !ok {
		return nil
	}
	return &c
}

// encodeNewMessage renders an optimistic message as the insert
// document. The temporary id stays client-side; the backend issues the
// canonical one.
func encodeNewMessage(m Message) map[string]any {
	doc := map[string]any{
		"client_token":    m.ClientToken,
		"conversation_id": m.ConversationID,
		"content":         m.Content,
		"sender_class":    string(m.SenderClass),
		"status":          string(m.Status),
		"content_type":    string(m.ContentType),
		"created_at":      m.CreatedAt,
	}
	if m.Media != nil {
		doc["media"] = m.Media
	}
	if m.ReplyToID != "" {
		doc["reply_to_id"] = m.ReplyToID
	}
	return doc
}
