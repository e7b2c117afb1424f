package featurejson

import (
	"github.com/golang/geo/s2"
	"github.com/twpayne/go-geom"
)

// BBox accumulates the bounding rectangle of geometries
type BBox struct {
	rect s2.Rect
}

func NewBBox() *BBox {
	return &BBox{rect: s2.EmptyRect()}
}

func (b *BBox) Add(g geom.T) {
	if g == nil {
		return
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, child := range gc.Geoms() {
			b.Add(child)
		}
		return
	}
	coords, stride := g.FlatCoords(), g.Stride()
	if stride < 2 {
		return
	}
	for i := 0; i+1 < len(coords); i += stride {
		b.rect = b.rect.AddPoint(s2.LatLngFromDegrees(coords[i+1], coords[i]))
	}
}

func (b *BBox) Empty() bool {
	return b.rect.IsEmpty()
}

// Bounds returns [west, south, east, north] in degrees, nil when nothing was added
func (b *BBox) Bounds() []float64 {
	if b.Empty() {
		return nil
	}
	lo, hi := b.rect.Lo(), b.rect.Hi()
	return []float64{lo.Lng.Degrees(), lo.Lat.Degrees(), hi.Lng.Degrees(), hi.Lat.Degrees()}
}
