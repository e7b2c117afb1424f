package hub

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/admission"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
	"github.com/heremaps/xyz-hub-sub001/spacestore"
)

var immutableFields = []string{"id", "createdAt", "updatedAt"}

type ListQuery struct {
	// Owner is "me" (default), "others", "*" or an owner id
	Owner  string
	Handle int
	Limit  int
}

func newSpaceId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateSpace returns the space with its assigned id also when the quota denies it
func (h *hub) CreateSpace(ctx context.Context, caller Caller, body []byte) (space spacestore.Space, err error) {
	if err = json.Unmarshal(body, &space); err != nil {
		return space, huberr.Newf(huberr.ErrValidation, "invalid space definition: %v", err)
	}
	if space.Id == "" {
		space.Id = newSpaceId()
	}
	if space.Owner == "" {
		space.Owner = caller.Owner
	} else if space.Owner != caller.Owner && !caller.Admin {
		return space, huberr.New(huberr.ErrForbidden, "only admins can create spaces for other owners")
	}
	now := h.nowMillis()
	space.CreatedAt, space.UpdatedAt = now, now
	space.Active = true
	if err = space.Validate(); err != nil {
		return space, err
	}

	res, err := h.admission.CheckAndReserve(ctx, admission.Request{Owner: space.Owner, SpaceId: space.Id, Kind: admission.KindSpace, Amount: 1})
	if err != nil {
		return space, err
	}
	defer res.Release()

	if space.IsComposite() {
		if err = h.checkExtends(ctx, caller, space.Id, space.ParentId()); err != nil {
			return space, err
		}
	}
	if err = h.checkVacant(ctx, space.Id); err != nil {
		return space, err
	}
	if err = h.spaces.Create(ctx, space); err != nil {
		return space, err
	}
	res.Commit()
	log.InfoCtx(ctx, "space created", metric.SpaceId(space.Id), metric.Owner(space.Owner))
	return space, nil
}

// checkVacant fails when the id is taken or a previous space of the id left content behind
func (h *hub) checkVacant(ctx context.Context, spaceId string) error {
	if _, err := h.spaces.Get(ctx, spaceId); err == nil {
		return spacestore.ErrSpaceExists
	} else if !errors.Is(err, spacestore.ErrSpaceNotFound) {
		return err
	}
	head, err := h.ledger.Head(ctx, spaceId)
	if err != nil {
		return err
	}
	usage, err := h.storage.Usage(ctx, spaceId)
	if err != nil {
		return err
	}
	if head > 0 || usage.Revisions > 0 {
		log.WarnCtx(ctx, "space id holds stale content", metric.SpaceId(spaceId), metric.Version(head), zap.Int("revisions", usage.Revisions))
		return huberr.Newf(huberr.ErrConflict, "space %s still holds content of a deleted space", spaceId)
	}
	return nil
}

func (h *hub) checkExtends(ctx context.Context, caller Caller, spaceId, parentId string) error {
	if err := h.resolver.ValidateExtends(ctx, spaceId, parentId); err != nil {
		return err
	}
	_, err := h.readableSpace(ctx, caller, parentId)
	return err
}

func (h *hub) GetSpace(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error) {
	return h.readableSpace(ctx, caller, spaceId)
}

func (h *hub) PatchSpace(ctx context.Context, caller Caller, spaceId string, patch []byte) (spacestore.Space, error) {
	space, err := h.writableSpace(ctx, caller, spaceId)
	if err != nil {
		return space, err
	}
	var members map[string]json.RawMessage
	if err = json.Unmarshal(patch, &members); err != nil {
		return space, huberr.Newf(huberr.ErrValidation, "invalid patch: %v", err)
	}
	currentJSON, err := json.Marshal(space)
	if err != nil {
		return space, err
	}
	var current map[string]json.RawMessage
	if err = json.Unmarshal(currentJSON, &current); err != nil {
		return space, err
	}
	for _, field := range immutableFields {
		if raw, ok := members[field]; ok && !sameJSON(raw, current[field]) {
			return space, huberr.Newf(huberr.ErrValidation, "the property %s is immutable", field)
		}
	}
	if raw, ok := members["owner"]; ok && !sameJSON(raw, current["owner"]) && !caller.Admin {
		return space, huberr.New(huberr.ErrForbidden, "only admins can change the owner of a space")
	}

	for k, v := range members {
		if string(v) == "null" {
			delete(current, k)
		} else {
			current[k] = v
		}
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return space, err
	}
	var updated spacestore.Space
	if err = json.Unmarshal(merged, &updated); err != nil {
		return space, huberr.Newf(huberr.ErrValidation, "invalid patch: %v", err)
	}
	updated.Id, updated.CreatedAt, updated.Active = space.Id, space.CreatedAt, space.Active
	updated.UpdatedAt = h.nowMillis()
	if err = updated.Validate(); err != nil {
		return space, err
	}
	if updated.IsComposite() && updated.ParentId() != space.ParentId() {
		if err = h.checkExtends(ctx, caller, updated.Id, updated.ParentId()); err != nil {
			return space, err
		}
	}
	if err = h.spaces.Update(ctx, updated); err != nil {
		return space, err
	}
	h.invalidate(ctx, spaceId)
	if updated.VersionsToKeep > 0 && updated.VersionsToKeep != space.VersionsToKeep {
		h.ledger.SchedulePrune(spaceId)
	}
	return updated, nil
}

func sameJSON(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func (h *hub) DeleteSpace(ctx context.Context, caller Caller, spaceId string) (spacestore.Space, error) {
	space, err := h.writableSpace(ctx, caller, spaceId)
	if err != nil {
		return space, err
	}
	affected, err := h.descendants(ctx, spaceId)
	if err != nil {
		return space, err
	}
	// the registry entry goes only after the content, a failed purge leaves a space that can be deleted again
	if err = h.ledger.Drop(ctx, spaceId, func(ctx context.Context) error {
		if err := h.storage.DeleteSpace(ctx, spaceId); err != nil {
			return err
		}
		if err := h.readers.DeleteSpace(ctx, spaceId); err != nil {
			return err
		}
		return h.spaces.Delete(ctx, spaceId)
	}); err != nil {
		log.ErrorCtx(ctx, "space is not deleted", metric.SpaceId(spaceId), zap.Error(err))
		return space, err
	}
	for _, id := range affected {
		h.cache.Invalidate(id)
	}
	h.admission.ReleaseSpace(space.Owner, spaceId)

	deps, err := h.spaces.Dependents(ctx, spaceId)
	if err != nil {
		return space, err
	}
	for _, dep := range deps {
		dep.Active = false
		dep.UpdatedAt = h.nowMillis()
		if err = h.spaces.Update(ctx, dep); err != nil {
			log.WarnCtx(ctx, "can't deactivate dependent space", metric.SpaceId(dep.Id), zap.Error(err))
		}
	}
	log.InfoCtx(ctx, "space deleted", metric.SpaceId(spaceId), metric.Owner(space.Owner), zap.Int("deactivated", len(deps)))
	return space, nil
}

func (h *hub) ListSpaces(ctx context.Context, caller Caller, q ListQuery) ([]spacestore.Space, error) {
	all, err := h.spaces.List(ctx)
	if err != nil {
		return nil, err
	}
	visible := all[:0]
	for _, space := range all {
		if listed(caller, q.Owner, space) {
			visible = append(visible, space)
		}
	}
	handle := max(q.Handle, 0)
	if handle >= len(visible) {
		return []spacestore.Space{}, nil
	}
	visible = visible[handle:]
	if limit := h.limit(q.Limit); limit < len(visible) {
		visible = visible[:limit]
	}
	return visible, nil
}

func listed(caller Caller, owner string, space spacestore.Space) bool {
	mine := space.Owner == caller.Owner
	switch owner {
	case "", "me":
		return mine
	case "others":
		return !mine && (space.Shared || caller.Admin)
	case "*":
		return mine || space.Shared || caller.Admin
	default:
		return space.Owner == owner && (mine || space.Shared || caller.Admin)
	}
}
