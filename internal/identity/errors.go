package identity

import "errors"

// ErrNoIdentity is returned when Sign is called before a current identity
// has been configured on the signing service.
var ErrNoIdentity = errors.New("identity: no current identity configured")

// ErrNotFound is returned by Load/Store lookups for an identity that does
// not exist on disk or in the registry.
var ErrNotFound = errors.New("identity: not found")
