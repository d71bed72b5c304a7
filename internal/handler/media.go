package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/payload"
)

// MediaMover relocates a published listing's media objects to their
// permanent prefix. The move is conditional on current object-store
// state so re-delivery is a no-op: an object already present at the
// destination is never copied again, and a missing source with the
// destination in place means a previous attempt finished the move.
type MediaMover struct {
	store  ObjectStore
	logger *zap.Logger
}

func NewMediaMover(store ObjectStore, logger *zap.Logger) *MediaMover {
	return &MediaMover{store: store, logger: logger}
}

func (h *MediaMover) Handle(ctx context.Context, job domain.Job, p payload.Payload) (json.RawMessage, error) {
	mv, ok := p.(*payload.MediaMove)
	if !ok {
		return nil, &domain.ValidationError{Queue: job.Queue, Reason: "unexpected payload type"}
	}

	moved, skipped := 0, 0
	for _, src := range mv.SourceKeys {
		dst := path.Join(mv.DestPrefix, path.Base(src))

		dstExists, err := h.store.Exists(ctx, dst)
		if err != nil {
			return nil, err
		}
		if dstExists {
			skipped++
			// A leftover source from a partially completed earlier
			// attempt still needs removing.
			if err := h.deleteIfPresent(ctx, src); err != nil {
				return nil, err
			}
			continue
		}

		srcExists, err := h.store.Exists(ctx, src)
		if err != nil {
			return nil, err
		}
		if !srcExists {
			return nil, domain.Terminal(fmt.Errorf("media object %s missing from both source and destination", src))
		}

		if err := h.store.Copy(ctx, src, dst); err != nil {
			return nil, err
		}
		if err := h.store.Delete(ctx, src); err != nil {
			return nil, err
		}
		moved++
	}

	h.logger.Info("listing media moved",
		zap.String("listing_id", mv.ListingID),
		zap.Int("moved", moved),
		zap.Int("skipped", skipped),
	)
	return json.Marshal(map[string]int{"moved": moved, "skipped": skipped})
}

func (h *MediaMover) deleteIfPresent(ctx context.Context, key string) error {
	exists, err := h.store.Exists(ctx, key)
	if err != nil || !exists {
		return err
	}
	return h.store.Delete(ctx, key)
}
