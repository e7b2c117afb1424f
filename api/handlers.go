package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heremaps/xyz-hub-sub001/app/logger"
	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/hub"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/metric"
)

// handlerFunc runs with the authenticated caller, a returned error is written as the error response
type handlerFunc func(w http.ResponseWriter, r *http.Request, caller hub.Caller) error

func (s *api) serve(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if spaceId := chi.URLParam(r, "spaceId"); spaceId != "" {
			r = r.WithContext(logger.CtxWithFields(r.Context(), metric.SpaceId(spaceId)))
		}
		if err = h(w, r, caller); err != nil {
			writeError(w, err)
		}
	}
}

func (s *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *api) createSpace(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	space, err := s.hub.CreateSpace(r.Context(), caller, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, space)
	return nil
}

func (s *api) listSpaces(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	q := r.URL.Query()
	handle, err := intParam(q, "handle")
	if err != nil {
		return err
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		return err
	}
	spaces, err := s.hub.ListSpaces(r.Context(), caller, hub.ListQuery{Owner: q.Get("owner"), Handle: int(handle), Limit: int(limit)})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, spaces)
	return nil
}

func (s *api) getSpace(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	space, err := s.hub.GetSpace(r.Context(), caller, chi.URLParam(r, "spaceId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, space)
	return nil
}

func (s *api) patchSpace(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	space, err := s.hub.PatchSpace(r.Context(), caller, chi.URLParam(r, "spaceId"), body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, space)
	return nil
}

func (s *api) deleteSpace(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	space, err := s.hub.DeleteSpace(r.Context(), caller, chi.URLParam(r, "spaceId"))
	if err != nil {
		return err
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, space)
	} else {
		writeNoContent(w)
	}
	return nil
}

func (s *api) readFeatures(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	q, err := readQuery(r)
	if err != nil {
		return err
	}
	res, err := s.hub.ReadFeatures(r.Context(), caller, chi.URLParam(r, "spaceId"), q)
	if err != nil {
		return err
	}
	writeRead(w, res)
	return nil
}

func (s *api) getFeature(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	q, err := readQuery(r)
	if err != nil {
		return err
	}
	res, err := s.hub.GetFeature(r.Context(), caller, chi.URLParam(r, "spaceId"), chi.URLParam(r, "featureId"), q)
	if err != nil {
		return err
	}
	writeRead(w, res)
	return nil
}

func writeRead(w http.ResponseWriter, res hub.ReadResult) {
	w.Header().Set(HeaderCache, string(res.Cache))
	w.Header().Set("ETag", `"`+res.Version+`"`)
	writeRaw(w, http.StatusOK, contentTypeGeoJSON, res.Body)
}

func (s *api) writeFeatures(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	res, err := s.hub.WriteFeatures(r.Context(), caller, chi.URLParam(r, "spaceId"), body)
	if err != nil {
		return err
	}
	if wantsEmpty(r) {
		writeNoContent(w)
	} else {
		writeRaw(w, http.StatusOK, contentTypeGeoJSON, res.Body)
	}
	return nil
}

func (s *api) deleteFeatures(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	ids := idsParam(r.URL.Query())
	if len(ids) == 0 {
		return huberr.New(huberr.ErrValidation, "at least one id is required")
	}
	deleted, err := s.hub.DeleteFeatures(r.Context(), caller, chi.URLParam(r, "spaceId"), ids)
	if err != nil {
		return err
	}
	if wantsEmpty(r) {
		writeNoContent(w)
	} else {
		writeJSON(w, http.StatusOK, map[string][]string{"deleted": deleted})
	}
	return nil
}

func (s *api) deleteFeature(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	if _, err := s.hub.DeleteFeatures(r.Context(), caller, chi.URLParam(r, "spaceId"), []string{chi.URLParam(r, "featureId")}); err != nil {
		return err
	}
	writeNoContent(w)
	return nil
}

func (s *api) statistics(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	c, err := composition.ParseContext(r.URL.Query().Get("context"))
	if err != nil {
		return err
	}
	stats, err := s.hub.Statistics(r.Context(), caller, chi.URLParam(r, "spaceId"), c)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stats)
	return nil
}

func (s *api) pruneRevisions(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	before, err := revisionsBound(r.URL.Query())
	if err != nil {
		return err
	}
	if _, err = s.hub.PruneRevisions(r.Context(), caller, chi.URLParam(r, "spaceId"), before); err != nil {
		return err
	}
	writeNoContent(w)
	return nil
}

func (s *api) history(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	q, err := historyQuery(r.URL.Query())
	if err != nil {
		return err
	}
	cc, err := s.hub.History(r.Context(), caller, chi.URLParam(r, "spaceId"), q)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cc)
	return nil
}

func (s *api) historyStatistics(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	stats, err := s.hub.HistoryStatistics(r.Context(), caller, chi.URLParam(r, "spaceId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stats)
	return nil
}

func (s *api) listReaders(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	readers, err := s.hub.ListReaders(r.Context(), caller, chi.URLParam(r, "spaceId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, readers)
	return nil
}

func (s *api) createReader(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	reader, err := s.hub.CreateReader(r.Context(), caller, chi.URLParam(r, "spaceId"), chi.URLParam(r, "readerId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, reader)
	return nil
}

func (s *api) getReader(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	reader, err := s.hub.GetReader(r.Context(), caller, chi.URLParam(r, "spaceId"), chi.URLParam(r, "readerId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, reader)
	return nil
}

func (s *api) deleteReader(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	if err := s.hub.DeleteReader(r.Context(), caller, chi.URLParam(r, "spaceId"), chi.URLParam(r, "readerId")); err != nil {
		return err
	}
	writeNoContent(w)
	return nil
}

func (s *api) setReader(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	var req struct {
		Version *int64 `json:"version"`
	}
	if err = json.Unmarshal(body, &req); err != nil || req.Version == nil {
		return huberr.New(huberr.ErrValidation, `the body must be {"version":N}`)
	}
	reader, err := s.hub.SetReader(r.Context(), caller, chi.URLParam(r, "spaceId"), chi.URLParam(r, "readerId"), *req.Version)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, reader)
	return nil
}

func (s *api) handleEvent(w http.ResponseWriter, r *http.Request, caller hub.Caller) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	res, err := s.hub.HandleEvent(r.Context(), caller, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}
