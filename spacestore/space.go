package spacestore

import (
	"regexp"

	"github.com/heremaps/xyz-hub-sub001/huberr"
)

var spaceIdRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type Extends struct {
	SpaceId string `json:"spaceId"`
}

// Space is a named, owned feature collection.
// VersionsToKeep is the retention window: 0 keeps everything, 1 keeps no history.
// CacheTTL is in seconds, 0 disables response caching.
type Space struct {
	Id             string   `json:"id"`
	Owner          string   `json:"owner"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Extends        *Extends `json:"extends,omitempty"`
	VersionsToKeep int64    `json:"versionsToKeep"`
	CacheTTL       int64    `json:"cacheTTL"`
	ReadOnly       bool     `json:"readOnly"`
	Shared         bool     `json:"shared"`
	Active         bool     `json:"active"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
}

func (s Space) ParentId() string {
	if s.Extends == nil {
		return ""
	}
	return s.Extends.SpaceId
}

func (s Space) IsComposite() bool {
	return s.ParentId() != ""
}

// KeepsHistory reports whether versions other than the head can be read
func (s Space) KeepsHistory() bool {
	return s.VersionsToKeep != 1
}

func ValidateId(id string) error {
	if !spaceIdRe.MatchString(id) {
		return huberr.Newf(huberr.ErrValidation, "invalid space id %q", id)
	}
	return nil
}

// Validate checks field level constraints, references to other spaces are checked by the composition resolver
func (s Space) Validate() error {
	if err := ValidateId(s.Id); err != nil {
		return err
	}
	if s.Owner == "" {
		return huberr.New(huberr.ErrValidation, "space owner is empty")
	}
	if s.VersionsToKeep < 0 {
		return huberr.New(huberr.ErrValidation, "versionsToKeep must not be negative")
	}
	if s.CacheTTL < 0 {
		return huberr.New(huberr.ErrValidation, "cacheTTL must not be negative")
	}
	if s.Extends != nil && s.Extends.SpaceId == "" {
		return huberr.New(huberr.ErrValidation, "extends.spaceId is empty")
	}
	return nil
}
