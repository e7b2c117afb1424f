package api

import (
	"net/http"
	"strconv"

	"github.com/heremaps/xyz-hub-sub001/hub"
	"github.com/heremaps/xyz-hub-sub001/huberr"
)

// AuthCName is the name an Authenticator component registers under to replace the header authenticator
const AuthCName = "hub.api.auth"

const (
	HeaderOwner = "X-Owner"
	HeaderAdmin = "X-Admin"
)

var ErrNoCaller = huberr.New(huberr.ErrForbidden, "the request carries no caller identity")

type Authenticator interface {
	Authenticate(r *http.Request) (hub.Caller, error)
}

// HeaderAuthenticator trusts identity headers set by a fronting gateway
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (hub.Caller, error) {
	owner := r.Header.Get(HeaderOwner)
	if owner == "" {
		return hub.Caller{}, ErrNoCaller
	}
	admin, _ := strconv.ParseBool(r.Header.Get(HeaderAdmin))
	return hub.Caller{Owner: owner, Admin: admin}, nil
}
