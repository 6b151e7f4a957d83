package backend

import (
	"net/http"

	"github.com/succeedex/modelapi/core/access"
	"github.com/succeedex/modelapi/core/logger"
	"github.com/succeedex/modelapi/core/response"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

func (b *Backend) handleVersion() {
	logger.Default().Debugln("  handle version route: /version GET")
	b.router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		if b.authorizationEnabled {
			auth := access.AuthorizationFromContext(r.Context())
			if auth == nil || auth.Anonymous {
				response.Unauthenticated(w, r)
				return
			}
			if !auth.HasRole("admin") {
				response.Forbidden(w, r)
				return
			}
		}
		response.OK(w, r, "version retrieved", map[string]string{"version": Version})
	}).Methods(http.MethodOptions, http.MethodGet)
}
