package usecase

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
	"dormarket/internal/infrastructure/ratelimit"
	"dormarket/internal/infrastructure/realtime"
	"dormarket/pkg/errors"
	"dormarket/pkg/utils"
)

// Session states. Ready is re-entered on every successful fetch or merge.
type SessionState int32

const (
	SessionUninitialized SessionState = iota
	SessionLoading
	SessionReady
)

type MessageStreamUseCase struct {
	conversations    *ConversationUseCase
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	userRepo         repository.UserRepository
	list             *ConversationListUseCase
	unread           *UnreadUseCase
	rateLimiter      *ratelimit.RateLimiter
	subscribeOpts    realtime.Options

	mu       sync.Mutex
	sessions map[string]*ChatSession // one open conversation per user
}

func NewMessageStreamUseCase(
	conversations *ConversationUseCase,
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	list *ConversationListUseCase,
	unread *UnreadUseCase,
	subscribeOpts realtime.Options,
) *MessageStreamUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &MessageStreamUseCase{
		conversations:    conversations,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		list:             list,
		unread:           unread,
		rateLimiter:      rateLimiter,
		subscribeOpts:    subscribeOpts,
		sessions:         make(map[string]*ChatSession),
	}
}

type OpenConversationInput struct {
	// ConversationID of an existing conversation, or "" for a brand-new
	// one that will be created on first send.
	ConversationID string
	// OtherUserID / ProductID give the creation context for the deferred
	// case, mirroring FindOrCreateInput.
	OtherUserID string
	ProductID   string
}

// OpenConversation builds the reconciler session for one open conversation.
// Any previous session for the same user is disposed first, so its realtime
// subscription is closed before a new one opens.
func (uc *MessageStreamUseCase) OpenConversation(ctx context.Context, userID string, input OpenConversationInput) (*ChatSession, error) {
	uc.CloseConversation(userID)

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &ChatSession{
		uc:             uc,
		ctx:            sessionCtx,
		cancel:         cancel,
		userID:         userID,
		conversationID: input.ConversationID,
		otherUserID:    input.OtherUserID,
		productID:      input.ProductID,
		focused:        true,
		subscriber:     realtime.NewSubscriber(uc.subscribeOpts),
	}

	if err := session.initialize(ctx); err != nil {
		cancel()
		return nil, err
	}

	uc.mu.Lock()
	displaced := uc.sessions[userID]
	uc.sessions[userID] = session
	uc.mu.Unlock()

	// A concurrent open for the same user can slip past the teardown
	// above; the session it stored must not keep its subscription.
	if displaced != nil {
		displaced.Dispose()
	}

	return session, nil
}

// Session returns the user's open session, if any.
func (uc *MessageStreamUseCase) Session(userID string) *ChatSession {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.sessions[userID]
}

// CloseConversation disposes the user's open session, if any.
func (uc *MessageStreamUseCase) CloseConversation(userID string) {
	uc.mu.Lock()
	session := uc.sessions[userID]
	delete(uc.sessions, userID)
	uc.mu.Unlock()

	if session != nil {
		session.Dispose()
	}
}

// ChatSession keeps the ordered message list of one open conversation
// consistent with the store under optimistic sends, realtime pushes and
// refetches. Confirmed and pending messages are held apart and only merged
// at the read boundary.
type ChatSession struct {
	uc     *MessageStreamUseCase
	ctx    context.Context
	cancel context.CancelFunc

	userID      string
	otherUserID string
	productID   string

	mu             sync.Mutex
	state          SessionState
	conversationID string
	confirmed      []*entity.Message
	pending        []*entity.Message
	sendInFlight   bool
	focused        bool
	disposed       bool
	// Bumped on dispose; async continuations compare their captured value
	// before touching state, so results landing after teardown are ignored.
	generation int64

	subscriber *realtime.Subscriber
	onChange   func()
}

// OnChange registers the reactive callback invoked whenever the rendered
// message list may have changed.
func (s *ChatSession) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *ChatSession) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *ChatSession) initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.conversationID == "" {
		// Brand-new conversation: nothing to fetch, creation is deferred
		// until the first send.
		s.state = SessionReady
		s.mu.Unlock()
		return nil
	}
	s.state = SessionLoading
	conversationID := s.conversationID
	generation := s.generation
	s.mu.Unlock()

	messages, err := s.uc.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		log.Printf("ChatSession Error: initial fetch failed for conversation %s: %v", conversationID, err)
		return err
	}
	s.resolveSenders(ctx, messages)

	s.mu.Lock()
	if s.disposed || s.generation != generation {
		s.mu.Unlock()
		return nil
	}
	s.confirmed = messages
	s.state = SessionReady
	s.mu.Unlock()

	s.openSubscription(conversationID)
	s.notifyChange()
	s.MarkRead(ctx)
	return nil
}

// State reports the session lifecycle state.
func (s *ChatSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the current conversation id; "" until the first
// send creates one.
func (s *ChatSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns the rendered list: confirmed plus still-unconfirmed
// pending messages, merged by (id, content), duplicates silently dropped,
// sorted by creation time ascending. Realtime events arrive out of order,
// so ordering is recomputed on every read.
func (s *ChatSession) Messages() []*entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked()
}

func (s *ChatSession) mergeLocked() []*entity.Message {
	merged := make([]*entity.Message, 0, len(s.confirmed)+len(s.pending))
	seen := make(map[string]bool, len(s.confirmed))
	confirmedContent := make(map[string]bool, len(s.confirmed))

	for _, message := range s.confirmed {
		key := message.ID + "\x00" + message.Content
		if seen[key] {
			continue
		}
		seen[key] = true
		confirmedContent[message.Content] = true
		merged = append(merged, message)
	}

	// An optimistic message whose content has been confirmed is superseded:
	// the confirmed row wins no matter which arrived first.
	for _, message := range s.pending {
		if confirmedContent[message.Content] {
			continue
		}
		merged = append(merged, message)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// Send validates, optimistically inserts, persists, and reconciles one
// outgoing message. On failure the optimistic message is removed and the
// caller resends; there is no silent retry.
func (s *ChatSession) Send(ctx context.Context, text string) (*entity.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.BadRequest("Message is empty", nil)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, errors.BadRequest("Conversation is closed", nil)
	}
	if s.sendInFlight {
		s.mu.Unlock()
		return nil, errors.BadRequest("A message is already being sent", nil)
	}
	s.sendInFlight = true
	generation := s.generation
	conversationID := s.conversationID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sendInFlight = false
		s.mu.Unlock()
	}()

	allowed, _ := s.uc.rateLimiter.Allow(s.userID, "send_message")
	if !allowed {
		log.Printf("Send Rate Limited: User %s", s.userID)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", nil)
	}

	conversation, err := s.resolveConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conversationID = conversation.ID

	otherID := conversation.OtherParticipant(s.userID)
	other := s.uc.conversations.OtherParticipantProfile(ctx, conversation, s.userID)
	if other.IsDeletedSentinel() {
		return nil, errors.Forbidden("This account no longer exists", nil)
	}

	// Sends are also blocked when the relation changed after the
	// conversation was created.
	if err := s.uc.conversations.CheckBlocked(ctx, s.userID, otherID); err != nil {
		return nil, err
	}

	optimistic := &entity.Message{
		ID:             entity.NewTemporaryID(),
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        text,
		ReadBy:         []string{s.userID},
		CreatedAt:      time.Now(),
		IsTemporary:    true,
	}

	s.mu.Lock()
	if s.disposed || s.generation != generation {
		s.mu.Unlock()
		return nil, errors.BadRequest("Conversation is closed", nil)
	}
	s.conversationID = conversationID
	s.pending = append(s.pending, optimistic)
	s.mu.Unlock()
	s.notifyChange()

	confirmed := &entity.Message{
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        text,
		Participants:   conversation.Participants(),
		ReadBy:         []string{s.userID},
	}

	if err := s.uc.messageRepo.Create(ctx, confirmed); err != nil {
		s.removePending(conversationID, text)
		s.notifyChange()
		log.Printf("Send Error: Failed to persist message for conversation %s: %v", conversationID, err)
		if errors.IsBlocked(err) {
			return nil, err
		}
		return nil, errors.New("SEND_FAILED", "Message could not be sent. Please try again", 502, err)
	}

	s.mu.Lock()
	if !s.disposed && s.generation == generation {
		// Replace the optimistic echo by (conversation, content); the
		// confirmed id differs from the temporary one by construction.
		s.dropPendingLocked(conversationID, text)
		s.insertConfirmedLocked(confirmed)
	}
	s.mu.Unlock()
	s.notifyChange()

	s.updateSummary(ctx, conversation, confirmed)
	if s.uc.list != nil {
		s.uc.list.RequestRefresh(otherID)
		s.uc.list.RequestRefresh(s.userID)
	}
	if s.uc.unread != nil {
		s.uc.unread.RequestRecompute(otherID)
	}

	return confirmed, nil
}

// resolveConversation returns the current conversation, creating it on the
// first send of a brand-new one.
func (s *ChatSession) resolveConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	if conversationID != "" {
		return s.uc.conversationRepo.GetByID(ctx, conversationID)
	}

	conversation, err := s.uc.conversations.FindOrCreateConversation(ctx, s.userID, FindOrCreateInput{
		OtherUserID: s.otherUserID,
		ProductID:   s.productID,
	})
	if err != nil {
		return nil, err
	}

	s.openSubscription(conversation.ID)
	return conversation, nil
}

func (s *ChatSession) updateSummary(ctx context.Context, conversation *entity.Conversation, message *entity.Message) {
	conversation.LastMessage = message.Content
	conversation.LastMessageAt = message.CreatedAt
	if err := s.uc.conversationRepo.Update(ctx, conversation); err != nil {
		log.Printf("Send Warning: Failed to update conversation summary %s: %v", conversation.ID, err)
	}
}

func (s *ChatSession) removePending(conversationID, content string) {
	s.mu.Lock()
	s.dropPendingLocked(conversationID, content)
	s.mu.Unlock()
}

func (s *ChatSession) dropPendingLocked(conversationID, content string) {
	kept := s.pending[:0]
	for _, message := range s.pending {
		if message.ConversationID == conversationID && message.Content == content {
			continue
		}
		kept = append(kept, message)
	}
	s.pending = kept
}

func (s *ChatSession) insertConfirmedLocked(message *entity.Message) {
	for _, existing := range s.confirmed {
		if existing.ID == message.ID {
			return
		}
	}
	s.confirmed = append(s.confirmed, message)
}

// MarkRead appends the current user to the read-by set of every unread
// message from the other side, in one batched store update, then patches
// local state optimistically. Short-circuits before any remote call when
// nothing is unread. Store failures are logged and swallowed: a failed
// read receipt must not block message display.
func (s *ChatSession) MarkRead(ctx context.Context) {
	s.mu.Lock()
	conversationID := s.conversationID
	generation := s.generation
	hasUnread := false
	for _, message := range s.confirmed {
		if message.UnreadFor(s.userID) {
			hasUnread = true
			break
		}
	}
	s.mu.Unlock()

	if conversationID == "" || !hasUnread {
		return
	}

	if _, err := s.uc.messageRepo.MarkAllRead(ctx, conversationID, s.userID); err != nil {
		log.Printf("MarkRead Warning: read receipt failed for conversation %s: %v", conversationID, err)
		return
	}

	s.mu.Lock()
	if !s.disposed && s.generation == generation {
		for _, message := range s.confirmed {
			if message.UnreadFor(s.userID) {
				message.ReadBy = append(message.ReadBy, s.userID)
			}
		}
	}
	s.mu.Unlock()
	s.notifyChange()

	if s.uc.list != nil {
		s.uc.list.RequestRefresh(s.userID)
	}
	if s.uc.unread != nil {
		s.uc.unread.RequestRecompute(s.userID)
	}
}

// SetFocused tracks whether the conversation screen is visible. Regaining
// focus re-runs read-receipt propagation.
func (s *ChatSession) SetFocused(focused bool) {
	s.mu.Lock()
	wasFocused := s.focused
	s.focused = focused
	s.mu.Unlock()

	if focused && !wasFocused {
		s.MarkRead(s.ctx)
	}
}

func (s *ChatSession) openSubscription(conversationID string) {
	err := s.subscriber.Start(s.ctx, func(ctx context.Context) (repository.Subscription, error) {
		return s.uc.messageRepo.Subscribe(ctx, conversationID, s.handleEvent)
	}, func() {
		s.refetch(conversationID)
	})
	if err != nil {
		// Sending and fetching still work; only push delivery is degraded.
		log.Printf("ChatSession Warning: realtime subscription failed for conversation %s: %v", conversationID, err)
	}
}

func (s *ChatSession) handleEvent(event repository.MessageEvent) {
	s.mu.Lock()
	if s.disposed || event.ConversationID != s.conversationID {
		s.mu.Unlock()
		return
	}
	generation := s.generation
	conversationID := s.conversationID
	s.mu.Unlock()

	switch event.Type {
	case repository.EventUpdate:
		// Typically a read-state change: patch in place, no refetch.
		if event.Message == nil {
			return
		}
		s.mu.Lock()
		if s.disposed || s.generation != generation {
			s.mu.Unlock()
			return
		}
		for _, message := range s.confirmed {
			if message.ID == event.MessageID {
				// Union, never replace: a stale redelivery may carry an
				// older, smaller set, and the read-by set only grows.
				for _, reader := range event.Message.ReadBy {
					message.ReadBy = utils.AppendReader(message.ReadBy, reader)
				}
				break
			}
		}
		s.mu.Unlock()
		s.notifyChange()

	case repository.EventInsert:
		// The event payload is not enough to render: fetch the full row,
		// sender display info included, before merging.
		message, err := s.uc.messageRepo.GetByID(s.ctx, conversationID, event.MessageID)
		if err != nil {
			log.Printf("handleEvent Warning: Failed to fetch message %s: %v", event.MessageID, err)
			return
		}
		s.resolveSenders(s.ctx, []*entity.Message{message})

		s.mu.Lock()
		if s.disposed || s.generation != generation {
			s.mu.Unlock()
			return
		}
		s.dropPendingLocked(conversationID, message.Content)
		s.insertConfirmedLocked(message)
		focused := s.focused
		fromOther := message.SenderID != s.userID
		s.mu.Unlock()
		s.notifyChange()

		if focused && fromOther {
			s.MarkRead(s.ctx)
		}
		if s.uc.list != nil {
			s.uc.list.RequestRefresh(s.userID)
		}
	}
}

// refetch reloads the full history; degraded-mode polling and reconnect
// reconciliation both land here, since realtime replays nothing across
// disconnects.
func (s *ChatSession) refetch(conversationID string) {
	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	messages, err := s.uc.messageRepo.ListByConversation(s.ctx, conversationID)
	if err != nil {
		log.Printf("refetch Warning: Failed to reload conversation %s: %v", conversationID, err)
		return
	}
	s.resolveSenders(s.ctx, messages)

	s.mu.Lock()
	if s.disposed || s.generation != generation || s.conversationID != conversationID {
		s.mu.Unlock()
		return
	}
	s.confirmed = messages
	s.state = SessionReady
	s.mu.Unlock()
	s.notifyChange()
}

func (s *ChatSession) resolveSenders(ctx context.Context, messages []*entity.Message) {
	for _, message := range messages {
		if message.SenderID == "" {
			message.Sender = entity.DeletedAccount()
			continue
		}
		sender, err := s.uc.userRepo.GetByID(ctx, message.SenderID)
		if err != nil {
			message.Sender = entity.DeletedAccount()
			continue
		}
		message.Sender = sender
	}
}

// Dispose tears the session down: the realtime subscription closes before
// any new one may open, timers die with the context, and late async
// results are fenced off by the generation bump.
func (s *ChatSession) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.generation++
	s.state = SessionUninitialized
	s.mu.Unlock()

	s.subscriber.Stop()
	s.cancel()
}
