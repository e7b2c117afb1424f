package hub

import (
	"context"

	"github.com/heremaps/xyz-hub-sub001/readerstore"
)

func (h *hub) CreateReader(ctx context.Context, caller Caller, spaceId, readerId string) (readerstore.Reader, error) {
	if _, err := h.readableSpace(ctx, caller, spaceId); err != nil {
		return readerstore.Reader{}, err
	}
	return h.readers.Create(ctx, spaceId, readerId)
}

func (h *hub) GetReader(ctx context.Context, caller Caller, spaceId, readerId string) (readerstore.Reader, error) {
	if _, err := h.readableSpace(ctx, caller, spaceId); err != nil {
		return readerstore.Reader{}, err
	}
	return h.readers.Get(ctx, spaceId, readerId)
}

// SetReader moves the checkpoint, a retention pass follows since the lowest checkpoint may have advanced
func (h *hub) SetReader(ctx context.Context, caller Caller, spaceId, readerId string, version int64) (readerstore.Reader, error) {
	space, err := h.readableSpace(ctx, caller, spaceId)
	if err != nil {
		return readerstore.Reader{}, err
	}
	reader, err := h.readers.Set(ctx, spaceId, readerId, version)
	if err != nil {
		return reader, err
	}
	if space.VersionsToKeep > 0 {
		h.ledger.SchedulePrune(spaceId)
	}
	return reader, nil
}

func (h *hub) DeleteReader(ctx context.Context, caller Caller, spaceId, readerId string) error {
	space, err := h.readableSpace(ctx, caller, spaceId)
	if err != nil {
		return err
	}
	if err = h.readers.Delete(ctx, spaceId, readerId); err != nil {
		return err
	}
	if space.VersionsToKeep > 0 {
		h.ledger.SchedulePrune(spaceId)
	}
	return nil
}

func (h *hub) ListReaders(ctx context.Context, caller Caller, spaceId string) ([]readerstore.Reader, error) {
	if _, err := h.readableSpace(ctx, caller, spaceId); err != nil {
		return nil, err
	}
	readers, err := h.readers.List(ctx, spaceId)
	if err != nil {
		return nil, err
	}
	if readers == nil {
		readers = []readerstore.Reader{}
	}
	return readers, nil
}
