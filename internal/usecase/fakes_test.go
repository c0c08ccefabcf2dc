package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
	"dormarket/internal/infrastructure/realtime"
	"dormarket/pkg/errors"
)

type fakeSubscription struct {
	once   sync.Once
	closed func()
}

func (s *fakeSubscription) Close() {
	s.once.Do(func() {
		if s.closed != nil {
			s.closed()
		}
	})
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	created       int
	// beforeCreate can reject or race-insert before the row is stored.
	beforeCreate func(*entity.Conversation) error
	handlers     map[string][]repository.ConversationEventHandler
	closedSubs   int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[string]*entity.Conversation),
		handlers:      make(map[string][]repository.ConversationEventHandler),
	}
}

func (r *fakeConversationRepo) put(c *entity.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
}

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	hook := r.beforeCreate
	r.mu.Unlock()

	if hook != nil {
		if err := hook(conversation); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversation.ID]; ok {
		return errors.Conflict("Conversation already exists")
	}
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	r.conversations[conversation.ID] = conversation
	r.created++
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conversation, nil
}

func (r *fakeConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Conversation
	for _, conversation := range r.conversations {
		if conversation.HasParticipant(userID) {
			out = append(out, conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (r *fakeConversationRepo) Update(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversation.ID]; !ok {
		return errors.NotFound("Conversation", nil)
	}
	conversation.UpdatedAt = time.Now()
	r.conversations[conversation.ID] = conversation
	return nil
}

func (r *fakeConversationRepo) Subscribe(ctx context.Context, userID string, handler repository.ConversationEventHandler) (repository.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[userID] = append(r.handlers[userID], handler)
	return &fakeSubscription{closed: func() {
		r.mu.Lock()
		r.closedSubs++
		r.mu.Unlock()
	}}, nil
}

func (r *fakeConversationRepo) emit(userID string, event repository.ConversationEvent) {
	r.mu.Lock()
	handlers := append([]repository.ConversationEventHandler(nil), r.handlers[userID]...)
	r.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

type fakeMessageRepo struct {
	mu           sync.Mutex
	byConv       map[string][]*entity.Message
	nextID       int
	createErr    error
	// onCreate runs after the row is stored and the lock released, so a
	// test can deliver the realtime echo before Create returns.
	onCreate         func(*entity.Message)
	markAllReadCalls int
	convHandlers     map[string][]repository.MessageEventHandler
	userHandlers     map[string][]repository.MessageEventHandler
	closedSubs       int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		byConv:       make(map[string][]*entity.Message),
		convHandlers: make(map[string][]repository.MessageEventHandler),
		userHandlers: make(map[string][]repository.MessageEventHandler),
	}
}

func (r *fakeMessageRepo) put(message *entity.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConv[message.ConversationID] = append(r.byConv[message.ConversationID], message)
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	if r.createErr != nil {
		err := r.createErr
		r.mu.Unlock()
		return err
	}
	if message.ID == "" || entity.IsTemporaryID(message.ID) {
		r.nextID++
		message.ID = fmt.Sprintf("srv-%d", r.nextID)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	r.byConv[message.ConversationID] = append(r.byConv[message.ConversationID], message)
	hook := r.onCreate
	r.mu.Unlock()

	if hook != nil {
		hook(message)
	}
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.byConv[conversationID] {
		if message.ID == messageID {
			copied := *message
			copied.ReadBy = append([]string(nil), message.ReadBy...)
			return &copied, nil
		}
	}
	return nil, errors.NotFound("Message", nil)
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Message, 0, len(r.byConv[conversationID]))
	for _, message := range r.byConv[conversationID] {
		copied := *message
		copied.ReadBy = append([]string(nil), message.ReadBy...)
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeMessageRepo) MarkAllRead(ctx context.Context, conversationID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markAllReadCalls++
	touched := 0
	for _, message := range r.byConv[conversationID] {
		if message.UnreadFor(userID) {
			message.ReadBy = append(message.ReadBy, userID)
			touched++
		}
	}
	return touched, nil
}

func (r *fakeMessageRepo) Subscribe(ctx context.Context, conversationID string, handler repository.MessageEventHandler) (repository.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convHandlers[conversationID] = append(r.convHandlers[conversationID], handler)
	return &fakeSubscription{closed: func() {
		r.mu.Lock()
		r.closedSubs++
		r.mu.Unlock()
	}}, nil
}

func (r *fakeMessageRepo) SubscribeUser(ctx context.Context, userID string, handler repository.MessageEventHandler) (repository.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userHandlers[userID] = append(r.userHandlers[userID], handler)
	return &fakeSubscription{closed: func() {
		r.mu.Lock()
		r.closedSubs++
		r.mu.Unlock()
	}}, nil
}

func (r *fakeMessageRepo) emitConv(conversationID string, event repository.MessageEvent) {
	r.mu.Lock()
	handlers := append([]repository.MessageEventHandler(nil), r.convHandlers[conversationID]...)
	r.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

func (r *fakeMessageRepo) emitUser(userID string, event repository.MessageEvent) {
	r.mu.Lock()
	handlers := append([]repository.MessageEventHandler(nil), r.userHandlers[userID]...)
	r.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newFakeUserRepo(users ...*entity.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*entity.User)}
	for _, user := range users {
		r.users[user.ID] = user
	}
	return r
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	return user, nil
}

type fakeProductRepo struct {
	mu       sync.Mutex
	products map[string]*entity.Product
}

func newFakeProductRepo(products ...*entity.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[string]*entity.Product)}
	for _, product := range products {
		r.products[product.ID] = product
	}
	return r
}

func (r *fakeProductRepo) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	return product, nil
}

type fakeBlockRepo struct {
	mu     sync.Mutex
	blocks map[string]bool
	err    error
}

func newFakeBlockRepo() *fakeBlockRepo {
	return &fakeBlockRepo{blocks: make(map[string]bool)}
}

func (r *fakeBlockRepo) block(blockerID, blockedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[blockerID+"|"+blockedID] = true
}

func (r *fakeBlockRepo) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	return r.blocks[blockerID+"|"+blockedID], nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	unread      map[string][]int
	convUpdates map[string]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		unread:      make(map[string][]int),
		convUpdates: make(map[string]int),
	}
}

func (n *recordingNotifier) NotifyUnreadCount(userID string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unread[userID] = append(n.unread[userID], count)
}

func (n *recordingNotifier) NotifyConversationUpdated(userID, conversationID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.convUpdates[userID]++
}

func (n *recordingNotifier) unreadHistory(userID string) []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.unread[userID]...)
}

func (n *recordingNotifier) conversationUpdates(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.convUpdates[userID]
}

// testEnv wires the usecases against in-memory fakes the way main does
// against Firestore.
type testEnv struct {
	convRepo    *fakeConversationRepo
	messageRepo *fakeMessageRepo
	userRepo    *fakeUserRepo
	productRepo *fakeProductRepo
	blockRepo   *fakeBlockRepo
	notifier    *recordingNotifier

	conversations *ConversationUseCase
	list          *ConversationListUseCase
	stream        *MessageStreamUseCase
	unread        *UnreadUseCase
}

func newTestEnv(users ...*entity.User) *testEnv {
	env := &testEnv{
		convRepo:    newFakeConversationRepo(),
		messageRepo: newFakeMessageRepo(),
		userRepo:    newFakeUserRepo(users...),
		productRepo: newFakeProductRepo(),
		blockRepo:   newFakeBlockRepo(),
		notifier:    newRecordingNotifier(),
	}
	env.unread = NewUnreadUseCase(env.convRepo, env.messageRepo, env.notifier)
	env.conversations = NewConversationUseCase(env.convRepo, env.userRepo, env.productRepo, env.blockRepo)
	env.list = NewConversationListUseCase(env.convRepo, env.messageRepo, env.conversations, env.unread, env.notifier, time.Millisecond, time.Millisecond)
	env.stream = NewMessageStreamUseCase(env.conversations, env.convRepo, env.messageRepo, env.userRepo, env.list, env.unread, realtime.Options{})
	return env
}

func (env *testEnv) seedLegacyConversation(userA, userB string) *entity.Conversation {
	id := entity.LegacyConversationID(userA, userB)
	user1, user2 := userA, userB
	if user2 < user1 {
		user1, user2 = user2, user1
	}
	conversation := &entity.Conversation{
		ID:             id,
		Schema:         entity.SchemaLegacy,
		ParticipantIDs: []string{user1, user2},
		User1ID:        user1,
		User2ID:        user2,
		CreatedAt:      time.Now(),
	}
	env.convRepo.put(conversation)
	return conversation
}

func (env *testEnv) seedMessage(conversationID, senderID, content string, createdAt time.Time, readBy ...string) *entity.Message {
	message := &entity.Message{
		ID:             fmt.Sprintf("seed-%s-%d", senderID, createdAt.UnixNano()),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
		ReadBy:         append([]string{senderID}, readBy...),
	}
	env.messageRepo.put(message)
	return message
}
