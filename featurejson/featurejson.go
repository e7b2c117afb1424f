// Package featurejson decodes, validates and encodes GeoJSON features.
package featurejson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/heremaps/xyz-hub-sub001/huberr"
)

// Namespace is the server managed property, it is dropped from input and injected on output
const Namespace = "@ns:com:here:xyz"

const (
	typeFeature    = "Feature"
	typeCollection = "FeatureCollection"
)

var null = []byte("null")

type Feature struct {
	Id         string
	Geometry   geom.T
	Properties map[string]any
}

// Meta is the content of the namespace property
type Meta struct {
	Space     string `json:"space"`
	Version   int64  `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
}

type rawFeature struct {
	Type       string          `json:"type"`
	Id         json.RawMessage `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type rawCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// DecodeFeatures accepts a FeatureCollection or a single Feature
func DecodeFeatures(data []byte) ([]*Feature, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, huberr.Newf(huberr.ErrValidation, "invalid JSON: %v", err)
	}
	switch probe.Type {
	case typeFeature:
		f, err := DecodeFeature(data)
		if err != nil {
			return nil, err
		}
		return []*Feature{f}, nil
	case typeCollection:
		var fc rawCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, huberr.Newf(huberr.ErrValidation, "invalid FeatureCollection: %v", err)
		}
		features := make([]*Feature, 0, len(fc.Features))
		for i, raw := range fc.Features {
			f, err := DecodeFeature(raw)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			features = append(features, f)
		}
		return features, nil
	}
	return nil, huberr.Newf(huberr.ErrValidation, "the input must be a Feature or a FeatureCollection, got type %q", probe.Type)
}

func DecodeFeature(data []byte) (*Feature, error) {
	var raw rawFeature
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, huberr.Newf(huberr.ErrValidation, "invalid Feature: %v", err)
	}
	if raw.Type != typeFeature {
		return nil, huberr.Newf(huberr.ErrValidation, "expected type Feature, got %q", raw.Type)
	}
	f := &Feature{Properties: map[string]any{}}
	if len(raw.Id) != 0 && !bytes.Equal(raw.Id, null) {
		if err := json.Unmarshal(raw.Id, &f.Id); err != nil {
			return nil, huberr.New(huberr.ErrValidation, "feature id must be a string")
		}
	}
	if len(raw.Geometry) != 0 && !bytes.Equal(raw.Geometry, null) {
		if err := geojson.Unmarshal(raw.Geometry, &f.Geometry); err != nil {
			return nil, huberr.Newf(huberr.ErrValidation, "invalid geometry: %v", err)
		}
	}
	if len(raw.Properties) != 0 && !bytes.Equal(raw.Properties, null) {
		dec := json.NewDecoder(bytes.NewReader(raw.Properties))
		dec.UseNumber()
		if err := dec.Decode(&f.Properties); err != nil {
			return nil, huberr.Newf(huberr.ErrValidation, "invalid properties: %v", err)
		}
	}
	delete(f.Properties, Namespace)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// EnsureId assigns a generated id to a feature without one
func (f *Feature) EnsureId() string {
	if f.Id == "" {
		f.Id = uuid.NewString()
	}
	return f.Id
}

// Canonical encodes the feature without the namespace property.
// Property keys are sorted so equal features give equal bytes.
func (f *Feature) Canonical() ([]byte, error) {
	return f.encode(nil)
}

// Encode encodes the feature with the namespace property set to meta
func (f *Feature) Encode(meta Meta) ([]byte, error) {
	return f.encode(&meta)
}

func (f *Feature) encode(meta *Meta) ([]byte, error) {
	out := struct {
		Type       string          `json:"type"`
		Id         string          `json:"id"`
		Geometry   json.RawMessage `json:"geometry"`
		Properties map[string]any  `json:"properties"`
	}{Type: typeFeature, Id: f.Id, Geometry: null, Properties: f.Properties}
	if f.Geometry != nil {
		g, err := geojson.Marshal(f.Geometry)
		if err != nil {
			return nil, err
		}
		out.Geometry = g
	}
	if meta != nil {
		props := make(map[string]any, len(f.Properties)+1)
		for k, v := range f.Properties {
			props[k] = v
		}
		props[Namespace] = meta
		out.Properties = props
	}
	if out.Properties == nil {
		out.Properties = map[string]any{}
	}
	return json.Marshal(out)
}

// Decorate injects the namespace property into a stored canonical payload
func Decorate(payload []byte, meta Meta) ([]byte, error) {
	f, err := DecodeFeature(payload)
	if err != nil {
		return nil, err
	}
	return f.encode(&meta)
}

// Geometry returns the geometry of a stored payload, nil when it has none
func Geometry(payload []byte) (geom.T, error) {
	var raw rawFeature
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if len(raw.Geometry) == 0 || bytes.Equal(raw.Geometry, null) {
		return nil, nil
	}
	var g geom.T
	if err := geojson.Unmarshal(raw.Geometry, &g); err != nil {
		return nil, err
	}
	return g, nil
}

// EncodeCollection wraps encoded features into a FeatureCollection, extra members are added at the top level
func EncodeCollection(features [][]byte, extra map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"FeatureCollection","features":[`)
	for i, f := range features {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(f)
	}
	buf.WriteByte(']')
	if len(extra) > 0 {
		members, err := json.Marshal(extra)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(members[1 : len(members)-1])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
