package hub

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
)

const (
	EventHealthCheck     = "HealthCheckEvent"
	EventInvalidateCache = "InvalidateCacheEvent"
	EventPruneRevisions  = "PruneRevisionsEvent"
	EventSpaceStats      = "SpaceStatsEvent"
)

type event struct {
	Type  string `json:"type"`
	Space string `json:"space"`
	// Version bounds PruneRevisionsEvent, 0 applies the space retention
	Version int64 `json:"version"`
}

type HealthStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type EventResult struct {
	Type    string `json:"type"`
	Space   string `json:"space"`
	Removed int    `json:"removed"`
}

func (h *hub) HandleEvent(ctx context.Context, caller Caller, body []byte) (any, error) {
	if !caller.Admin {
		return nil, ErrAdminOnly
	}
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, huberr.Newf(huberr.ErrValidation, "invalid event: %v", err)
	}
	if ev.Type != EventHealthCheck && ev.Space == "" {
		return nil, huberr.Newf(huberr.ErrValidation, "%s requires a space", ev.Type)
	}
	log.InfoCtx(ctx, "admin event", metric.SpaceId(ev.Space), metric.Owner(caller.Owner), zap.String("event", ev.Type))

	switch ev.Type {
	case EventHealthCheck:
		return HealthStatus{Type: "HealthStatus", Status: "OK"}, nil
	case EventInvalidateCache:
		if _, err := h.spaces.Get(ctx, ev.Space); err != nil {
			return nil, err
		}
		ids, err := h.descendants(ctx, ev.Space)
		if err != nil {
			return nil, err
		}
		res := EventResult{Type: "SuccessResponse", Space: ev.Space}
		for _, id := range ids {
			res.Removed += h.cache.Invalidate(id)
		}
		return res, nil
	case EventPruneRevisions:
		removed, err := h.PruneRevisions(ctx, caller, ev.Space, ev.Version)
		if err != nil {
			return nil, err
		}
		return EventResult{Type: "SuccessResponse", Space: ev.Space, Removed: removed}, nil
	case EventSpaceStats:
		return h.Statistics(ctx, caller, ev.Space, composition.Default)
	default:
		return nil, huberr.Newf(huberr.ErrValidation, "unknown event type %q", ev.Type)
	}
}
