package middleware

import (
	"context"
	"net"
	"net/http"
)

type remoteKey struct{}

// ClientNetwork classifies the request origin as local or remote and
// stores the result in the context. Run it after RealIP so proxied
// requests are judged by the client address, not the proxy's.
func ClientNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), remoteKey{}, isRemoteAddr(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IsRemote reports whether the request came from outside the local
// network. Unknown origins count as remote: the stricter delivery path
// is the safe default.
func IsRemote(ctx context.Context) bool {
	if remote, ok := ctx.Value(remoteKey{}).(bool); ok {
		return remote
	}
	return true
}

func isRemoteAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast()
}
