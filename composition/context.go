package composition

import (
	"strings"

	"github.com/heremaps/xyz-hub-sub001/huberr"
)

// Context selects the layers of a composite space a read resolves against
type Context int

const (
	// Default merges all layers, the most leaf-ward revision of an id wins
	Default Context = iota
	// Super resolves the chain as if the leaf did not exist
	Super
	// Extension resolves the leaf layer only
	Extension
)

func (c Context) String() string {
	switch c {
	case Super:
		return "SUPER"
	case Extension:
		return "EXTENSION"
	default:
		return "DEFAULT"
	}
}

// ParseContext accepts the context names case-insensitively, empty means Default
func ParseContext(s string) (Context, error) {
	switch strings.ToUpper(s) {
	case "", "DEFAULT":
		return Default, nil
	case "SUPER":
		return Super, nil
	case "EXTENSION":
		return Extension, nil
	}
	return Default, huberr.Newf(huberr.ErrValidation, "invalid context %q, expected one of DEFAULT, SUPER, EXTENSION", s)
}

// layers returns the part of the chain a context reads
func (c Context) layers(n int) (from, to int) {
	switch c {
	case Extension:
		return 0, 1
	case Super:
		return 1, n
	default:
		return 0, n
	}
}
