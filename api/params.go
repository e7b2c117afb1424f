package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/heremaps/xyz-hub-sub001/composition"
	"github.com/heremaps/xyz-hub-sub001/hub"
	"github.com/heremaps/xyz-hub-sub001/huberr"
	"github.com/heremaps/xyz-hub-sub001/responsecache"
)

func intParam(q url.Values, name string) (int64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, huberr.Newf(huberr.ErrValidation, "invalid %s %q", name, raw)
	}
	return v, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, huberr.Newf(huberr.ErrValidation, "invalid %s %q", name, raw)
	}
	return v, nil
}

// idsParam accepts repeated and comma separated id parameters
func idsParam(q url.Values) (ids []string) {
	for _, v := range q["id"] {
		for _, id := range strings.Split(v, ",") {
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	return
}

func readQuery(r *http.Request) (rq hub.ReadQuery, err error) {
	q := r.URL.Query()
	if rq.Context, err = composition.ParseContext(q.Get("context")); err != nil {
		return
	}
	if rq.Version, err = intParam(q, "version"); err != nil {
		return
	}
	handle, err := intParam(q, "handle")
	if err != nil {
		return
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		return
	}
	rq.Handle, rq.Limit = int(handle), int(limit)
	if rq.SkipCache, err = boolParam(q, responsecache.BypassParam); err != nil {
		return
	}
	rq.Ids = idsParam(q)
	rq.Fingerprint = responsecache.Fingerprint(r.Method, r.URL.Path, q)
	return
}

// revisionsBound parses version=lt=N and version=N, both prune history below N
func revisionsBound(q url.Values) (int64, error) {
	raw := q.Get("version")
	raw = strings.TrimPrefix(raw, "lt=")
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, huberr.Newf(huberr.ErrValidation, "invalid version bound %q", q.Get("version"))
	}
	return v, nil
}

// historyQuery reads vStart, vEnd, limit and nextPageToken
func historyQuery(q url.Values) (hq hub.HistoryQuery, err error) {
	if hq.Start, err = intParam(q, "vStart"); err != nil {
		return
	}
	if hq.End, err = intParam(q, "vEnd"); err != nil {
		return
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		return
	}
	token, err := intParam(q, "nextPageToken")
	if err != nil {
		return
	}
	hq.Limit, hq.Handle = int(limit), int(token)
	return
}
