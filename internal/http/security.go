package http

import (
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
)

// proxyNets are peers allowed to report the caller via forwarding headers.
var proxyNets = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
}

func fromProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range proxyNets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the caller's address. X-Forwarded-For and X-Real-IP are
// only believed when the direct peer is a known proxy.
func clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		peer = ap.Addr().String()
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !fromProxy(addr) {
		return peer
	}

	candidates := []string{r.Header.Get("X-Real-IP")}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		candidates = []string{first, r.Header.Get("X-Real-IP")}
	}
	for _, c := range candidates {
		if a, err := netip.ParseAddr(strings.TrimSpace(c)); err == nil {
			return a.String()
		}
	}
	return peer
}

// probeMarkers are substrings of paths and queries used by scanners.
var probeMarkers = []string{
	"../", "..\\", "/.git", "/.env", "/.ssh", "etc/passwd",
	"wp-admin", "wp-login", "phpmyadmin", "cgi-bin",
	"<script", "union select", "cmd.exe",
}

var scannerAgents = []string{"sqlmap", "nikto", "nmap", "masscan", "gobuster", "dirb", "zgrab"}

// requestGuard flags probing traffic. Flagged requests are logged and
// counted but still served.
type requestGuard struct {
	flagged atomic.Int64
}

// inspect returns why r looks hostile, or "" when it does not.
func (g *requestGuard) inspect(r *http.Request) string {
	reason := suspicionOf(r)
	if reason != "" {
		g.flagged.Add(1)
	}
	return reason
}

func suspicionOf(r *http.Request) string {
	switch r.Method {
	case http.MethodTrace, http.MethodConnect, "TRACK", "DEBUG":
		return "method"
	}
	if len(r.URL.RequestURI()) > 2048 {
		return "long_uri"
	}
	target := strings.ToLower(r.URL.Path + "?" + r.URL.RawQuery)
	for _, m := range probeMarkers {
		if strings.Contains(target, m) {
			return "probe_path"
		}
	}
	ua := strings.ToLower(r.UserAgent())
	for _, a := range scannerAgents {
		if strings.Contains(ua, a) {
			return "scanner_agent"
		}
	}
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 {
		return "forwarding_chain"
	}
	return ""
}

var hardeningHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

func harden(h http.Header) {
	for _, kv := range hardeningHeaders {
		h.Set(kv[0], kv[1])
	}
}
