package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/heremaps/xyz-hub-sub001/huberr"
)

const (
	HeaderInputSize  = "X-Decompressed-Input-Size"
	HeaderOutputSize = "X-Decompressed-Output-Size"
	HeaderCache      = "X-Cache"

	contentTypeJSON    = "application/json"
	contentTypeGeoJSON = "application/geo+json"
	contentTypeEmpty   = "application/x-empty"
)

type errorResponse struct {
	Type         string `json:"type"`
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
	SpaceId      string `json:"spaceId,omitempty"`
}

// readBody returns the decompressed request body and reports its size
func (s *api) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.conf.MaxBodyBytes
	var body io.Reader = r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, huberr.Newf(huberr.ErrValidation, "invalid gzip body: %v", err)
		}
		defer zr.Close()
		body = zr
		if limit > 0 {
			body = io.LimitReader(zr, limit+1)
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, huberr.Newf(huberr.ErrValidation, "request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, huberr.Newf(huberr.ErrValidation, "can't read request body: %v", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, huberr.Newf(huberr.ErrValidation, "request body exceeds %d bytes", limit)
	}
	w.Header().Set(HeaderInputSize, strconv.Itoa(len(data)))
	return data, nil
}

func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(HeaderOutputSize, strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Debug("can't write response", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, status, contentTypeJSON, body)
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set(HeaderOutputSize, "0")
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	status := huberr.HTTPStatus(err)
	resp := errorResponse{
		Type:         "ErrorResponse",
		Error:        http.StatusText(status),
		ErrorMessage: err.Error(),
	}
	var qe *huberr.QuotaError
	if errors.As(err, &qe) && qe.Kind == "spaces" {
		resp.SpaceId = qe.EntityId
	}
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", zap.Error(err))
		resp.ErrorMessage = "unexpected error"
	}
	body, _ := json.Marshal(resp)
	writeRaw(w, status, contentTypeJSON, body)
}

func wantsEmpty(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeEmpty)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeJSON)
}
