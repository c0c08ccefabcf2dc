package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
	"dormarket/internal/infrastructure/ratelimit"
)

// ConversationView is a conversation augmented with the derived fields the
// list rendering needs.
type ConversationView struct {
	*entity.Conversation
	OtherUser *entity.User `json:"other_user"`

	// Messages from the other side not yet read by the current user.
	UnreadCount int `json:"unread_count"`
	// Whether the chronologically latest message was sent by the current
	// user; false when there are no messages yet.
	IsMine bool `json:"is_mine"`
	// Meaningful only when IsMine: whether the other participant has read
	// the latest message.
	LastMessageReadByOther bool `json:"last_message_read_by_other"`
}

type ConversationListUseCase struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	conversations    *ConversationUseCase
	unread           *UnreadUseCase
	notifier         Notifier

	debounceWindow     time.Duration
	minRefreshInterval time.Duration

	mu    sync.Mutex
	syncs map[string]*listSync
}

// listSync is the per-user synchronization state: one refresh scheduler,
// the live store subscriptions feeding it, and the last published
// fingerprint for change suppression.
type listSync struct {
	cancel        context.CancelFunc
	scheduler     *ratelimit.RefreshScheduler
	subscriptions []repository.Subscription
	fingerprint   uint64
}

func NewConversationListUseCase(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	conversations *ConversationUseCase,
	unread *UnreadUseCase,
	notifier Notifier,
	debounceWindow, minRefreshInterval time.Duration,
) *ConversationListUseCase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &ConversationListUseCase{
		conversationRepo:   conversationRepo,
		messageRepo:        messageRepo,
		conversations:      conversations,
		unread:             unread,
		notifier:           notifier,
		debounceWindow:     debounceWindow,
		minRefreshInterval: minRefreshInterval,
		syncs:              make(map[string]*listSync),
	}
}

// ListConversations returns every conversation userID takes part in,
// augmented per view and ordered by last activity descending (the store
// already orders; re-fetches preserve it).
func (uc *ConversationListUseCase) ListConversations(ctx context.Context, userID string) ([]*ConversationView, error) {
	conversations, err := uc.conversationRepo.ListByUserID(ctx, userID)
	if err != nil {
		log.Printf("ListConversations Error: Failed to list conversations for user %s: %v", userID, err)
		return nil, err
	}

	views := make([]*ConversationView, 0, len(conversations))
	for _, conversation := range conversations {
		views = append(views, uc.buildView(ctx, conversation, userID))
	}

	return views, nil
}

func (uc *ConversationListUseCase) buildView(ctx context.Context, conversation *entity.Conversation, userID string) *ConversationView {
	view := &ConversationView{
		Conversation: conversation,
		OtherUser:    uc.conversations.OtherParticipantProfile(ctx, conversation, userID),
	}

	messages, err := uc.messageRepo.ListByConversation(ctx, conversation.ID)
	if err != nil {
		log.Printf("ListConversations Warning: Failed to load messages for conversation %s: %v", conversation.ID, err)
		return view
	}

	var latest *entity.Message
	for _, message := range messages {
		if message.UnreadFor(userID) {
			view.UnreadCount++
		}
		if latest == nil || !message.CreatedAt.Before(latest.CreatedAt) {
			latest = message
		}
	}

	if latest != nil && latest.SenderID == userID {
		view.IsMine = true
		otherID := conversation.OtherParticipant(userID)
		view.LastMessageReadByOther = otherID != "" && latest.ReadByUser(otherID)
	}

	return view
}

// FilterConversations applies the client-side search: a case-insensitive
// substring match over the other participant's name and the product name.
// Never hits the store.
func FilterConversations(views []*ConversationView, query string) []*ConversationView {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return views
	}

	filtered := make([]*ConversationView, 0, len(views))
	for _, view := range views {
		name := ""
		if view.OtherUser != nil {
			name = strings.ToLower(view.OtherUser.Username)
		}
		product := ""
		if view.Product != nil {
			product = strings.ToLower(view.Product.Name)
		}
		if strings.Contains(name, query) || strings.Contains(product, query) {
			filtered = append(filtered, view)
		}
	}
	return filtered
}

// Fingerprint condenses a view list into a content hash. Two lists with the
// same ids, last-message timestamps, unread counts, read flags and
// last-message text hash identically, so low-information realtime bursts
// never reach the UI.
func Fingerprint(views []*ConversationView) uint64 {
	h := fnv.New64a()
	for _, view := range views {
		fmt.Fprintf(h, "%s|%d|%d|%t|%t|%s;",
			view.ID,
			view.LastMessageAt.UnixNano(),
			view.UnreadCount,
			view.IsMine,
			view.LastMessageReadByOther,
			view.LastMessage,
		)
	}
	return h.Sum64()
}

// StartSync begins keeping userID's conversation list fresh: realtime
// events on messages and conversations request refreshes, which are
// debounced and rate limited by the scheduler, and only fingerprints that
// actually changed are pushed out.
func (uc *ConversationListUseCase) StartSync(ctx context.Context, userID string) error {
	uc.StopSync(userID)

	syncCtx, cancel := context.WithCancel(ctx)
	state := &listSync{cancel: cancel}
	state.scheduler = ratelimit.NewRefreshScheduler(uc.debounceWindow, uc.minRefreshInterval, func() {
		uc.refresh(syncCtx, userID)
	})

	messageSub, err := uc.messageRepo.SubscribeUser(syncCtx, userID, func(repository.MessageEvent) {
		state.scheduler.Request()
	})
	if err != nil {
		log.Printf("StartSync Warning: message subscription failed for user %s: %v", userID, err)
	} else {
		state.subscriptions = append(state.subscriptions, messageSub)
	}

	// Conversation events matter for product-deleted flag changes, which
	// no message event would ever carry.
	conversationSub, err := uc.conversationRepo.Subscribe(syncCtx, userID, func(repository.ConversationEvent) {
		state.scheduler.Request()
	})
	if err != nil {
		log.Printf("StartSync Warning: conversation subscription failed for user %s: %v", userID, err)
	} else {
		state.subscriptions = append(state.subscriptions, conversationSub)
	}

	uc.mu.Lock()
	uc.syncs[userID] = state
	uc.mu.Unlock()

	state.scheduler.Request()
	return nil
}

// RequestRefresh queues a refresh for userID: called on mark-as-read
// completion and pull-to-refresh. A no-op when no sync is running.
func (uc *ConversationListUseCase) RequestRefresh(userID string) {
	uc.mu.Lock()
	state := uc.syncs[userID]
	uc.mu.Unlock()

	if state != nil {
		state.scheduler.Request()
	}
}

func (uc *ConversationListUseCase) refresh(ctx context.Context, userID string) {
	views, err := uc.ListConversations(ctx, userID)
	if err != nil {
		log.Printf("refresh Error: list fetch failed for user %s: %v", userID, err)
		return
	}

	fingerprint := Fingerprint(views)

	uc.mu.Lock()
	state, ok := uc.syncs[userID]
	if !ok || state.fingerprint == fingerprint {
		// Sync torn down meanwhile, or nothing the UI would care about.
		uc.mu.Unlock()
		return
	}
	state.fingerprint = fingerprint
	uc.mu.Unlock()

	uc.notifier.NotifyConversationUpdated(userID, "")
	if uc.unread != nil {
		uc.unread.RequestRecompute(userID)
	}
}

// StopSync tears down userID's sync: closes subscriptions and clears the
// scheduler's timers.
func (uc *ConversationListUseCase) StopSync(userID string) {
	uc.mu.Lock()
	state, ok := uc.syncs[userID]
	delete(uc.syncs, userID)
	uc.mu.Unlock()

	if !ok {
		return
	}

	state.scheduler.Stop()
	for _, subscription := range state.subscriptions {
		subscription.Close()
	}
	state.cancel()
}
