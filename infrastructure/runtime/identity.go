// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the service should fail closed on
// identity/security boundaries — only the Gateway's verified JWT claims are
// trusted, never a client-supplied X-User-ID/X-Tenant-ID header.
//
// Production is always strict. A non-production deployment can opt in via
// LOGLINE_STRICT_IDENTITY=1, so a mis-set LOGLINE_ENV cannot silently weaken
// a staging environment that is otherwise wired with real mesh credentials.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		explicit := strings.TrimSpace(os.Getenv("LOGLINE_STRICT_IDENTITY"))
		strictIdentityModeValue = env == Production || explicit == "1" || strings.EqualFold(explicit, "true")
	})
	return strictIdentityModeValue
}
