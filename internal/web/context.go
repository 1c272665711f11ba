package web

import (
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/inventory"
)

// RequesterHeader carries the id of the user an import is run for.
const RequesterHeader = "X-Requester-ID"

// actorFromRequest builds the audit actor of r. The requester comes from
// RequesterHeader, falling back to fallback. RemoteAddr has already been
// rewritten by the trusted proxy middleware.
func actorFromRequest(r *http.Request, fallback string) inventory.Actor {
	requester := strings.TrimSpace(r.Header.Get(RequesterHeader))
	if requester == "" {
		requester = strings.TrimSpace(fallback)
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return inventory.Actor{
		RequesterID: requester,
		IPAddress:   ip,
		UserAgent:   r.UserAgent(),
	}
}
