package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
)

const (
	adminPathPrefix   = "/v1/admin"
	maxActivityBuffer = 1000
)

type RemoteAccessActivity struct {
	Timestamp       string
	SourceIP        string
	SourcePort      string
	Destination     string
	DestinationPort string
	Path            string
	Method          string
	Allowed         bool
	Reason          string
}

// RemoteAccessGuard restricts the admin routes to trusted networks and records
// every admin access attempt.
type RemoteAccessGuard struct {
	Clock clock.Clock
	Audit audit.Recorder
	Log   *zap.Logger

	trusted []*net.IPNet
	mu      sync.Mutex
	logs    []RemoteAccessActivity
}

func NewRemoteAccessGuard(clk clock.Clock, rec audit.Recorder, log *zap.Logger, cidrs []string) (*RemoteAccessGuard, error) {
	trusted := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted cidr %q: %w", c, err)
		}
		trusted = append(trusted, ipnet)
	}
	if len(trusted) == 0 {
		for _, c := range []string{"127.0.0.1/32", "::1/128"} {
			_, ipnet, _ := net.ParseCIDR(c)
			trusted = append(trusted, ipnet)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteAccessGuard{Clock: clk, Audit: rec, Log: log, trusted: trusted}, nil
}

func (g *RemoteAccessGuard) now() time.Time {
	if g.Clock == nil {
		return time.Now().UTC()
	}
	return g.Clock.Now().UTC()
}

func isAdminPath(path string) bool {
	return path == adminPathPrefix || strings.HasPrefix(path, adminPathPrefix+"/")
}

// sourceAddr prefers the first X-Forwarded-For hop; the wallet is expected
// behind a proxy that overwrites the header.
func sourceAddr(r *http.Request) (string, string) {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first), ""
	}
	host, port, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host, port
	}
	return strings.TrimSpace(r.RemoteAddr), ""
}

func (g *RemoteAccessGuard) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range g.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *RemoteAccessGuard) record(ctx context.Context, r *http.Request, sourceIP, sourcePort string, allowed bool, reason string) {
	now := g.now()
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host, port = r.Host, ""
	}
	g.mu.Lock()
	g.logs = append(g.logs, RemoteAccessActivity{
		Timestamp:       now.Format(time.RFC3339Nano),
		SourceIP:        sourceIP,
		SourcePort:      sourcePort,
		Destination:     host,
		DestinationPort: port,
		Path:            r.URL.Path,
		Method:          r.Method,
		Allowed:         allowed,
		Reason:          reason,
	})
	if len(g.logs) > maxActivityBuffer {
		g.logs = append([]RemoteAccessActivity(nil), g.logs[len(g.logs)-maxActivityBuffer:]...)
	}
	g.mu.Unlock()

	action, res := "allowed", audit.ResultSuccess
	if !allowed {
		action, res = "denied", audit.ResultDenied
		g.Log.Warn("admin access denied", zap.String("source_ip", sourceIP), zap.String("path", r.URL.Path), zap.String("reason", reason))
	}
	if g.Audit == nil {
		return
	}
	_, err = g.Audit.Append(ctx, audit.Event{
		OccurredAt:  now,
		ActorID:     sourceIP,
		ActorType:   "remote",
		AuthContext: "path=" + r.URL.Path,
		ObjectType:  "remote_access",
		ObjectID:    r.URL.Path,
		Action:      action,
		Before:      []byte(`{}`),
		After:       []byte(`{}`),
		Result:      res,
		Reason:      reason,
	})
	if err != nil {
		g.Log.Error("remote access audit append failed", zap.Error(err))
	}
}

func (g *RemoteAccessGuard) Activities() []RemoteAccessActivity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RemoteAccessActivity, len(g.logs))
	copy(out, g.logs)
	return out
}

func (g *RemoteAccessGuard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdminPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		sourceIP, sourcePort := sourceAddr(r)
		if !g.isTrusted(sourceIP) {
			g.record(r.Context(), r, sourceIP, sourcePort, false, "source ip outside trusted network")
			http.Error(w, "remote access denied", http.StatusForbidden)
			return
		}

		g.record(r.Context(), r, sourceIP, sourcePort, true, "")
		next.ServeHTTP(w, r)
	})
}
