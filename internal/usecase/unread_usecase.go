package usecase

import (
	"context"
	"log"
	"sync"

	"dormarket/internal/domain/repository"
)

// UnreadUseCase maintains the process-wide count of conversations holding
// at least one unread message, per signed-in user. The count is recomputed
// in full on every trigger rather than maintained incrementally, trading
// recomputation cost for correctness simplicity.
type UnreadUseCase struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	notifier         Notifier

	mu    sync.Mutex
	state map[string]*unreadState
}

type unreadState struct {
	count  int
	loaded bool
	// Bumped on sign-out so an in-flight recompute for the old session
	// cannot resurrect a count after teardown.
	generation   int64
	subscription repository.Subscription
	// Session-scoped: recomputes run against this, never against a
	// caller's request context that may be canceled mid-flight.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewUnreadUseCase(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	notifier Notifier,
) *UnreadUseCase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &UnreadUseCase{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		notifier:         notifier,
		state:            make(map[string]*unreadState),
	}
}

// Count returns the current unread-conversation count and whether a
// computation has completed since sign-in. Before that the count is 0 and
// not yet authoritative.
func (uc *UnreadUseCase) Count(userID string) (int, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	state, ok := uc.state[userID]
	if !ok {
		return 0, false
	}
	return state.count, state.loaded
}

// SignIn initializes the badge for a confirmed session: the count starts
// at 0/not-loaded, message-table events trigger recomputes, and the first
// successful computation makes the value authoritative.
func (uc *UnreadUseCase) SignIn(ctx context.Context, userID string) {
	uc.SignOut(userID)

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &unreadState{ctx: subCtx, cancel: cancel}

	uc.mu.Lock()
	uc.state[userID] = state
	uc.mu.Unlock()

	subscription, err := uc.messageRepo.SubscribeUser(subCtx, userID, func(repository.MessageEvent) {
		uc.RequestRecompute(userID)
	})
	if err != nil {
		log.Printf("UnreadUseCase Warning: message subscription failed for user %s: %v", userID, err)
	} else {
		uc.mu.Lock()
		if current, ok := uc.state[userID]; ok && current == state {
			state.subscription = subscription
			uc.mu.Unlock()
		} else {
			uc.mu.Unlock()
			subscription.Close()
		}
	}

	uc.RequestRecompute(userID)
}

// SignOut resets the badge synchronously, before any async recompute could
// run, and tears the per-user state down.
func (uc *UnreadUseCase) SignOut(userID string) {
	uc.mu.Lock()
	state, ok := uc.state[userID]
	delete(uc.state, userID)
	uc.mu.Unlock()

	if !ok {
		return
	}

	state.generation++
	state.loaded = false
	state.count = 0
	if state.subscription != nil {
		state.subscription.Close()
	}
	if state.cancel != nil {
		state.cancel()
	}
	uc.notifier.NotifyUnreadCount(userID, 0)
}

// RequestRecompute recomputes the count in the background. Triggers:
// sign-in, realtime message events, and explicit refresh signals from the
// reconciler and the list synchronizer. A no-op when the user has no badge
// session; the recompute runs on that session's own context.
func (uc *UnreadUseCase) RequestRecompute(userID string) {
	uc.mu.Lock()
	state, ok := uc.state[userID]
	uc.mu.Unlock()
	if !ok {
		return
	}

	ctx := state.ctx
	go func() {
		if _, err := uc.Recompute(ctx, userID); err != nil {
			log.Printf("RequestRecompute Warning: recompute failed for user %s: %v", userID, err)
		}
	}()
}

// Recompute counts the distinct conversations containing at least one
// message from another sender that userID has not read.
func (uc *UnreadUseCase) Recompute(ctx context.Context, userID string) (int, error) {
	uc.mu.Lock()
	state, ok := uc.state[userID]
	if !ok {
		uc.mu.Unlock()
		return 0, nil
	}
	generation := state.generation
	uc.mu.Unlock()

	conversations, err := uc.conversationRepo.ListByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, conversation := range conversations {
		messages, err := uc.messageRepo.ListByConversation(ctx, conversation.ID)
		if err != nil {
			log.Printf("Recompute Warning: Failed to load messages for conversation %s: %v", conversation.ID, err)
			continue
		}
		for _, message := range messages {
			if message.UnreadFor(userID) {
				count++
				break
			}
		}
	}

	uc.mu.Lock()
	state, ok = uc.state[userID]
	if !ok || state.generation != generation {
		// Signed out while computing; the reset stands.
		uc.mu.Unlock()
		return 0, nil
	}
	changed := !state.loaded || state.count != count
	state.count = count
	state.loaded = true
	uc.mu.Unlock()

	if changed {
		uc.notifier.NotifyUnreadCount(userID, count)
	}

	return count, nil
}
