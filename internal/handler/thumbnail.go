package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/payload"
)

// ThumbnailGenerator produces a resized JPEG rendition of one media
// object under the thumbs/ prefix. Regenerating an existing thumbnail
// just overwrites it with identical content, so re-delivery is safe.
type ThumbnailGenerator struct {
	store         ObjectStore
	defaultWidth  int
	defaultHeight int
	logger        *zap.Logger
}

func NewThumbnailGenerator(store ObjectStore, width, height int, logger *zap.Logger) *ThumbnailGenerator {
	if width == 0 && height == 0 {
		width = 320
	}
	return &ThumbnailGenerator{store: store, defaultWidth: width, defaultHeight: height, logger: logger}
}

func (h *ThumbnailGenerator) Handle(ctx context.Context, job domain.Job, p payload.Payload) (json.RawMessage, error) {
	tp, ok := p.(*payload.Thumbnail)
	if !ok {
		return nil, &domain.ValidationError{Queue: job.Queue, Reason: "unexpected payload type"}
	}

	data, _, err := h.store.Get(ctx, tp.SourceKey)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		// A corrupt upload will not decode on any retry.
		return nil, domain.Terminal(fmt.Errorf("decode %s: %w", tp.SourceKey, err))
	}

	width, height := tp.Width, tp.Height
	if width == 0 && height == 0 {
		width, height = h.defaultWidth, h.defaultHeight
	}
	thumb := imaging.Resize(img, width, height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail for %s: %w", tp.SourceKey, err)
	}

	key := thumbKey(tp.SourceKey)
	if err := h.store.Put(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
		return nil, err
	}

	h.logger.Info("thumbnail generated",
		zap.String("listing_id", tp.ListingID),
		zap.String("source_key", tp.SourceKey),
		zap.String("thumb_key", key),
	)
	return json.Marshal(map[string]string{"thumb_key": key})
}

func thumbKey(sourceKey string) string {
	base := path.Base(sourceKey)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return path.Join("thumbs", path.Dir(sourceKey), base+".jpg")
}
