package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"dormarket/internal/domain/repository"
	"dormarket/pkg/logger"
)

// querySubscription pins a snapshot listener goroutine to a cancelable
// context. Closing it stops the listener; closing twice is harmless.
type querySubscription struct {
	cancel context.CancelFunc
}

func (s *querySubscription) Close() {
	s.cancel()
}

// watchQuery turns a Firestore snapshot stream into per-document change
// callbacks. The first snapshot replays existing documents as adds, which
// consumers already tolerate: delivery is at-least-once and unordered, and
// duplicates are absorbed during merge.
func watchQuery(ctx context.Context, query firestore.Query, onChange func(firestore.DocumentChange)) (repository.Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	snapshots := query.Snapshots(watchCtx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				if watchCtx.Err() != nil {
					return
				}
				logger.Warn("Snapshot listener terminated: %v", err)
				return
			}
			for _, change := range snap.Changes {
				if change.Kind == firestore.DocumentRemoved {
					continue
				}
				onChange(change)
			}
		}
	}()

	return &querySubscription{cancel: cancel}, nil
}
