package featurejson

import (
	"github.com/golang/geo/s2"
	"github.com/twpayne/go-geom"

	"github.com/heremaps/xyz-hub-sub001/huberr"
)

const maxIdLength = 255

func (f *Feature) Validate() error {
	if len(f.Id) > maxIdLength {
		return huberr.Newf(huberr.ErrValidation, "feature id is longer than %d characters", maxIdLength)
	}
	if f.Geometry == nil {
		return nil
	}
	if err := validateCoords(f.Geometry); err != nil {
		return err
	}
	return validateShape(f.Geometry)
}

// validateCoords checks every position is a valid WGS84 longitude/latitude pair
func validateCoords(g geom.T) error {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, child := range gc.Geoms() {
			if err := validateCoords(child); err != nil {
				return err
			}
		}
		return nil
	}
	coords, stride := g.FlatCoords(), g.Stride()
	if stride < 2 {
		return nil
	}
	for i := 0; i+1 < len(coords); i += stride {
		if !s2.LatLngFromDegrees(coords[i+1], coords[i]).IsValid() {
			return huberr.Newf(huberr.ErrValidation, "invalid geometry: position [%v, %v] is out of range", coords[i], coords[i+1])
		}
	}
	return nil
}

func validateShape(g geom.T) error {
	switch t := g.(type) {
	case *geom.LineString:
		return validateLine(t)
	case *geom.MultiLineString:
		for i := 0; i < t.NumLineStrings(); i++ {
			if err := validateLine(t.LineString(i)); err != nil {
				return err
			}
		}
	case *geom.Polygon:
		return validatePolygon(t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if err := validatePolygon(t.Polygon(i)); err != nil {
				return err
			}
		}
	case *geom.GeometryCollection:
		for _, child := range t.Geoms() {
			if err := validateShape(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLine(ls *geom.LineString) error {
	if n := ls.NumCoords(); n == 1 {
		return huberr.New(huberr.ErrValidation, "invalid geometry: a LineString needs at least two positions")
	}
	return nil
}

func validatePolygon(p *geom.Polygon) error {
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := p.LinearRing(i)
		n := ring.NumCoords()
		if n == 0 {
			continue
		}
		if n < 4 {
			return huberr.New(huberr.ErrValidation, "invalid geometry: a linear ring needs at least four positions")
		}
		first, last := ring.Coord(0), ring.Coord(n-1)
		if first.X() != last.X() || first.Y() != last.Y() {
			return huberr.New(huberr.ErrValidation, "invalid geometry: a linear ring must be closed")
		}
	}
	return nil
}
