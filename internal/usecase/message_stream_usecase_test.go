package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
	"dormarket/pkg/errors"
)

func streamEnv(t *testing.T) (*testEnv, *entity.Conversation) {
	t.Helper()
	env := newTestEnv(
		&entity.User{ID: "alice", Username: "Alice"},
		&entity.User{ID: "bob", Username: "Bob"},
	)
	return env, env.seedLegacyConversation("alice", "bob")
}

func TestOpenConversationLoadsHistoryAndMarksRead(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	env.seedMessage(conversation.ID, "bob", "hey", time.Now().Add(-2*time.Minute))
	env.seedMessage(conversation.ID, "bob", "you there?", time.Now().Add(-time.Minute))

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)
	assert.Equal(t, SessionReady, session.State())

	messages := session.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "hey", messages[0].Content)
	require.NotNil(t, messages[0].Sender)
	assert.Equal(t, "Bob", messages[0].Sender.Username)

	// Opening propagates read receipts for the backlog.
	assert.Equal(t, 1, env.messageRepo.markAllReadCalls)
	for _, message := range messages {
		assert.True(t, message.ReadByUser("alice"))
	}
}

func TestOpenConversationSkipsReceiptWhenNothingUnread(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	env.seedMessage(conversation.ID, "bob", "old news", time.Now().Add(-time.Hour), "alice")

	_, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, env.messageRepo.markAllReadCalls)
}

func TestSendConfirmReplacesOptimistic(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	sent, err := session.Send(ctx, "  hello bob  ")
	require.NoError(t, err)
	assert.Equal(t, "hello bob", sent.Content)
	assert.False(t, entity.IsTemporaryID(sent.ID))

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, sent.ID, messages[0].ID)
	assert.False(t, messages[0].IsTemporary)

	// The conversation summary is denormalized on every send.
	updated, err := env.convRepo.GetByID(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", updated.LastMessage)
	assert.False(t, updated.LastMessageAt.IsZero())
}

func TestSendEchoBeforeConfirmDoesNotDuplicate(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	// The realtime echo lands before the create call returns.
	env.messageRepo.onCreate = func(message *entity.Message) {
		env.messageRepo.emitConv(conversation.ID, repository.MessageEvent{
			Type:           repository.EventInsert,
			ConversationID: conversation.ID,
			MessageID:      message.ID,
		})
	}

	_, err = session.Send(ctx, "exactly once")
	require.NoError(t, err)

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "exactly once", messages[0].Content)
}

func TestSendFailureRemovesOptimisticEcho(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	env.messageRepo.createErr = assert.AnError
	_, err = session.Send(ctx, "doomed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "SEND_FAILED"))
	assert.Empty(t, session.Messages())

	// The failed send does not linger; a retry goes through cleanly.
	env.messageRepo.createErr = nil
	_, err = session.Send(ctx, "doomed")
	require.NoError(t, err)
	require.Len(t, session.Messages(), 1)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := session.Send(ctx, content)
		require.Error(t, err)
		assert.True(t, errors.Is(err, "BAD_REQUEST"))
	}
	assert.Empty(t, session.Messages())
}

func TestSendBlockedRelation(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	// The block landed after the conversation existed; sends still stop.
	env.blockRepo.block("bob", "alice")
	_, err = session.Send(ctx, "hello?")
	require.Error(t, err)
	assert.True(t, errors.IsBlocked(err))
	assert.Empty(t, session.Messages())
}

func TestSendToRemovedAccount(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	env.userRepo.users["bob"].Deleted = true
	_, err = session.Send(ctx, "anyone home?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestDeferredConversationCreationOnFirstSend(t *testing.T) {
	env := newTestEnv(
		&entity.User{ID: "alice", Username: "Alice"},
		&entity.User{ID: "bob", Username: "Bob"},
	)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{OtherUserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, SessionReady, session.State())
	assert.Equal(t, "", session.ConversationID())
	assert.Equal(t, 0, env.convRepo.created)

	_, err = session.Send(ctx, "first contact")
	require.NoError(t, err)
	assert.Equal(t, 1, env.convRepo.created)
	assert.Equal(t, entity.LegacyConversationID("alice", "bob"), session.ConversationID())
	require.Len(t, session.Messages(), 1)
}

func TestIncomingMessageMarkedReadWhileFocused(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	incoming := env.seedMessage(conversation.ID, "bob", "look at this", time.Now())
	env.messageRepo.emitConv(conversation.ID, repository.MessageEvent{
		Type:           repository.EventInsert,
		ConversationID: conversation.ID,
		MessageID:      incoming.ID,
	})

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].ReadByUser("alice"))
	assert.True(t, incoming.ReadByUser("alice"))
}

func TestIncomingMessageStaysUnreadWhileUnfocused(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)
	session.SetFocused(false)

	incoming := env.seedMessage(conversation.ID, "bob", "seen later", time.Now())
	env.messageRepo.emitConv(conversation.ID, repository.MessageEvent{
		Type:           repository.EventInsert,
		ConversationID: conversation.ID,
		MessageID:      incoming.ID,
	})

	require.Len(t, session.Messages(), 1)
	assert.False(t, incoming.ReadByUser("alice"))

	// Regaining focus propagates the receipt.
	session.SetFocused(true)
	assert.True(t, incoming.ReadByUser("alice"))
}

func TestReadStateEventPatchesInPlace(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	sent, err := session.Send(ctx, "read me")
	require.NoError(t, err)
	require.Len(t, session.Messages(), 1)
	assert.False(t, session.Messages()[0].ReadByUser("bob"))

	env.messageRepo.emitConv(conversation.ID, repository.MessageEvent{
		Type:           repository.EventUpdate,
		ConversationID: conversation.ID,
		MessageID:      sent.ID,
		Message:        &entity.Message{ID: sent.ID, ReadBy: []string{"alice", "bob"}},
	})

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].ReadByUser("bob"))
}

func TestStaleReadStateEventCannotUnread(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	incoming := env.seedMessage(conversation.ID, "bob", "catch up", time.Now().Add(-time.Minute))

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)
	require.True(t, session.Messages()[0].ReadByUser("alice"))

	// Events are at-least-once and unordered: a redelivery can carry the
	// read-by set from before the receipt landed.
	env.messageRepo.emitConv(conversation.ID, repository.MessageEvent{
		Type:           repository.EventUpdate,
		ConversationID: conversation.ID,
		MessageID:      incoming.ID,
		Message:        &entity.Message{ID: incoming.ID, ReadBy: []string{"bob"}},
	})

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].ReadByUser("alice"))
	assert.True(t, messages[0].ReadByUser("bob"))
}

func TestMessagesOrderedByCreationTime(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	env.seedMessage(conversation.ID, "bob", "second", base.Add(2*time.Minute))
	env.seedMessage(conversation.ID, "alice", "first", base.Add(time.Minute))
	env.seedMessage(conversation.ID, "bob", "third", base.Add(3*time.Minute))

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	messages := session.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
}

func TestCloseConversationStopsEventDelivery(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
	require.NoError(t, err)

	env.stream.CloseConversation("alice")
	assert.Nil(t, env.stream.Session("alice"))
	assert.GreaterOrEqual(t, env.messageRepo.closedSubs, 1)

	// A late event for the disposed session changes nothing.
	stale := env.seedMessage(conversation.ID, "bob", "too late", time.Now())
	env.messageRepo.emitConv(conversation.ID, repository.MessageEvent{
		Type:           repository.EventInsert,
		ConversationID: conversation.ID,
		MessageID:      stale.ID,
	})
	assert.Empty(t, session.Messages())
}

func TestOpenConversationReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(
		&entity.User{ID: "alice", Username: "Alice"},
		&entity.User{ID: "bob", Username: "Bob"},
		&entity.User{ID: "carol", Username: "Carol"},
	)
	ctx := context.Background()
	first := env.seedLegacyConversation("alice", "bob")
	second := env.seedLegacyConversation("alice", "carol")

	previous, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: first.ID})
	require.NoError(t, err)

	replacement, err := env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: second.ID})
	require.NoError(t, err)

	assert.Equal(t, SessionUninitialized, previous.State())
	assert.GreaterOrEqual(t, env.messageRepo.closedSubs, 1)
	assert.Same(t, replacement, env.stream.Session("alice"))
}

func TestConcurrentOpensKeepOneLiveSession(t *testing.T) {
	env, conversation := streamEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	sessions := make([]*ChatSession, 2)
	errs := make([]error, 2)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = env.stream.OpenConversation(ctx, "alice", OpenConversationInput{ConversationID: conversation.ID})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	current := env.stream.Session("alice")
	require.NotNil(t, current)
	for _, session := range sessions {
		if session == current {
			assert.Equal(t, SessionReady, session.State())
		} else {
			assert.Equal(t, SessionUninitialized, session.State())
		}
	}

	// Two subscriptions were opened; the losing session's is closed again.
	assert.Equal(t, 1, env.messageRepo.closedSubs)
}

func TestFirstContactOnProductListing(t *testing.T) {
	env := newTestEnv(
		&entity.User{ID: "xavier", Username: "Xavier"},
		&entity.User{ID: "yara", Username: "Yara"},
	)
	env.productRepo.products["p1"] = &entity.Product{ID: "p1", SellerID: "yara", Name: "Bookshelf", Type: entity.ListingSell, Price: 30}
	ctx := context.Background()

	session, err := env.stream.OpenConversation(ctx, "xavier", OpenConversationInput{ProductID: "p1"})
	require.NoError(t, err)

	_, err = session.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "product_p1_xavier_yara", session.ConversationID())

	views, err := env.list.ListConversations(ctx, "xavier")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "hello", views[0].LastMessage)
	assert.True(t, views[0].IsMine)
	assert.False(t, views[0].LastMessageReadByOther)
	assert.Equal(t, "Yara", views[0].OtherUser.Username)

	messages := session.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)

	// The seller opening the conversation reads it; the buyer's receipt
	// flag flips on the next refresh.
	_, err = env.stream.OpenConversation(ctx, "yara", OpenConversationInput{ConversationID: session.ConversationID()})
	require.NoError(t, err)

	views, err = env.list.ListConversations(ctx, "xavier")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].LastMessageReadByOther)
}
