package usecase

import (
	"context"
	"log"
	"sync/atomic"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
	"dormarket/internal/infrastructure/ratelimit"
	"dormarket/pkg/errors"
)

// Product-shape support is probed once per process, not per request. The
// legacy fallback exists for deployments that have not migrated yet; it is
// a compatibility affordance, not dual-schema support.
const (
	productShapeUnknown int32 = iota
	productShapeSupported
	productShapeUnsupported
)

type ConversationUseCase struct {
	conversationRepo repository.ConversationRepository
	userRepo         repository.UserRepository
	productRepo      repository.ProductRepository
	blockRepo        repository.BlockRepository
	rateLimiter      *ratelimit.RateLimiter

	productShape int32
}

func NewConversationUseCase(
	conversationRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	blockRepo repository.BlockRepository,
) *ConversationUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ConversationUseCase{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		productRepo:      productRepo,
		blockRepo:        blockRepo,
		rateLimiter:      rateLimiter,
	}
}

type FindOrCreateInput struct {
	// OtherUserID addresses a user directly (legacy pair conversation).
	// Ignored when ProductID is set: the other party is the listing owner.
	OtherUserID string
	ProductID   string
}

// FindOrCreateConversation resolves the deterministic conversation id for
// the given context and returns the existing conversation, or creates it
// with userID as the initiating side. Idempotent: an existing conversation
// is returned unchanged, its product snapshot is never overwritten. Safe
// under concurrent callers: a creation race resolves by re-fetching the
// winner.
func (uc *ConversationUseCase) FindOrCreateConversation(ctx context.Context, userID string, input FindOrCreateInput) (*entity.Conversation, error) {
	allowed, _ := uc.rateLimiter.Allow(userID, "create_conversation")
	if !allowed {
		log.Printf("FindOrCreateConversation Rate Limited: User %s", userID)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before starting another conversation", nil)
	}

	var product *entity.Product
	otherUserID := input.OtherUserID

	if input.ProductID != "" {
		var err error
		product, err = uc.productRepo.GetByID(ctx, input.ProductID)
		if err != nil {
			log.Printf("FindOrCreateConversation Error: Product %s not found: %v", input.ProductID, err)
			return nil, errors.NotFound("Product", err)
		}
		otherUserID = product.SellerID
	}

	if otherUserID == "" {
		return nil, errors.BadRequest("A conversation needs another participant", nil)
	}
	if userID == otherUserID {
		log.Printf("FindOrCreateConversation Error: User %s attempted a conversation with themselves", userID)
		return nil, errors.BadRequest("You cannot start a conversation with yourself", nil)
	}

	if err := uc.CheckBlocked(ctx, userID, otherUserID); err != nil {
		return nil, err
	}

	if product != nil && atomic.LoadInt32(&uc.productShape) != productShapeUnsupported {
		conversation, err := uc.findOrCreateProduct(ctx, userID, product)
		if err == nil || !errors.Is(err, "SCHEMA_MISMATCH") {
			return conversation, err
		}
		// One transparent fallback. Flagged loudly: this signals an
		// inconsistent deployment, not a supported steady state.
		atomic.StoreInt32(&uc.productShape, productShapeUnsupported)
		log.Printf("FindOrCreateConversation Warning: store does not support the product conversation shape, falling back to legacy pair ids: %v", err)
	}

	return uc.findOrCreateLegacy(ctx, userID, otherUserID)
}

// CheckBlocked fails with a direction-carrying Blocked error when either
// party has blocked the other. Nothing is created or reused in that case.
func (uc *ConversationUseCase) CheckBlocked(ctx context.Context, userID, otherUserID string) error {
	blockedByMe, err := uc.blockRepo.IsBlocked(ctx, userID, otherUserID)
	if err != nil {
		log.Printf("CheckBlocked Error: lookup failed for %s -> %s: %v", userID, otherUserID, err)
		return errors.Blocked(err)
	}
	if blockedByMe {
		return errors.BlockedByMe()
	}

	blockedMe, err := uc.blockRepo.IsBlocked(ctx, otherUserID, userID)
	if err != nil {
		log.Printf("CheckBlocked Error: lookup failed for %s -> %s: %v", otherUserID, userID, err)
		return errors.Blocked(err)
	}
	if blockedMe {
		return errors.BlockedMe()
	}

	return nil
}

func (uc *ConversationUseCase) findOrCreateProduct(ctx context.Context, buyerID string, product *entity.Product) (*entity.Conversation, error) {
	id := entity.ProductConversationID(product.ID, buyerID, product.SellerID)

	existing, err := uc.conversationRepo.GetByID(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	conversation := &entity.Conversation{
		ID:             id,
		Schema:         entity.SchemaProduct,
		ParticipantIDs: []string{buyerID, product.SellerID},
		BuyerID:        buyerID,
		SellerID:       product.SellerID,
		Product:        product.Snapshot(),
	}

	if err := uc.conversationRepo.Create(ctx, conversation); err != nil {
		if errors.Is(err, "CONFLICT") {
			// Two near-simultaneous creations; the store kept one row.
			return uc.conversationRepo.GetByID(ctx, id)
		}
		return nil, err
	}
	atomic.CompareAndSwapInt32(&uc.productShape, productShapeUnknown, productShapeSupported)

	return conversation, nil
}

func (uc *ConversationUseCase) findOrCreateLegacy(ctx context.Context, userID, otherUserID string) (*entity.Conversation, error) {
	id := entity.LegacyConversationID(userID, otherUserID)

	existing, err := uc.conversationRepo.GetByID(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	user1, user2 := userID, otherUserID
	if user2 < user1 {
		user1, user2 = user2, user1
	}

	conversation := &entity.Conversation{
		ID:             id,
		Schema:         entity.SchemaLegacy,
		ParticipantIDs: []string{user1, user2},
		User1ID:        user1,
		User2ID:        user2,
	}

	if err := uc.conversationRepo.Create(ctx, conversation); err != nil {
		if errors.Is(err, "CONFLICT") {
			return uc.conversationRepo.GetByID(ctx, id)
		}
		return nil, err
	}

	return conversation, nil
}

// OtherParticipantProfile resolves the display identity for the side of the
// conversation that is not userID. A missing or deleted profile degrades to
// the deleted-account sentinel instead of an error.
func (uc *ConversationUseCase) OtherParticipantProfile(ctx context.Context, conversation *entity.Conversation, userID string) *entity.User {
	otherID := conversation.OtherParticipant(userID)
	if otherID == "" {
		return entity.DeletedAccount()
	}

	user, err := uc.userRepo.GetByID(ctx, otherID)
	if err != nil || user.Deleted {
		return entity.DeletedAccount()
	}
	return user
}
