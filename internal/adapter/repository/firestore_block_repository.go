package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"dormarket/internal/domain/repository"
	"dormarket/pkg/errors"
)

type firestoreBlockRepository struct {
	client *firestore.Client
}

func NewFirestoreBlockRepository(client *firestore.Client) repository.BlockRepository {
	return &firestoreBlockRepository{
		client: client,
	}
}

func (r *firestoreBlockRepository) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	query := r.client.Collection("blocks").
		Where("blockerId", "==", blockerID).
		Where("blockedId", "==", blockedID).
		Limit(1)

	iter := query.Documents(ctx)
	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, errors.Internal("Failed to query block relation", err)
	}

	return true, nil
}
