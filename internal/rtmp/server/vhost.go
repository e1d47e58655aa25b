package server

// Vhost check
// -----------
// spec.md §4.6 step 6 of the RTMP session state machine: once `connect`
// resolves a tcUrl, look up its vhost, reject connections to a disabled
// vhost, and apply the referer policy before the session is allowed to
// proceed to token acquisition. Grounded on
// original_source/srs_app_rtmp_conn.cpp's check_vhost (vhost lookup,
// get_vhost_enabled) and the referer checks inside playing()/publish()
// (get_refer_enabled/get_refer_all/get_refer_play/get_refer_publish).
//
// This server's Config has no per-vhost map (EdgeOrigins/RelayDestinations
// are both already global), so VhostPolicy applies uniformly to every
// vhost a tcUrl can name rather than introducing the only per-vhost
// setting in the config surface.

import (
	"net/url"
	"strings"
)

// VhostPolicy controls the access checks applied at connect/publish/play
// time. A nil policy (the default Config) imposes no restriction, matching
// the original single-vhost, always-enabled behavior.
type VhostPolicy struct {
	// Enabled mirrors SRS's vhost.enabled directive: false rejects every
	// connection outright. Defaults to true in the zero value's spirit,
	// so it's inverted here as Disabled to keep Config's zero value
	// permissive instead of silently rejecting every connection.
	Disabled bool

	// RefererEnabled turns on referer checking at all; the per-role lists
	// below are only consulted when this is true.
	RefererEnabled bool
	// RefererPlayDomains / RefererPublishDomains are the allowed pageUrl
	// host suffixes for playing / publishing respectively. An empty list
	// with RefererEnabled true means "allow none" (SRS's refer.all vs.
	// refer.play/refer.publish split, generalized to suffix match).
	RefererPlayDomains    []string
	RefererPublishDomains []string
}

// vhostFromTcURL extracts the vhost name from an RTMP tcUrl
// (rtmp://host[:port]/app[?vhost=name]), following SRS's own precedence:
// an explicit ?vhost= query parameter wins, otherwise the connection host
// is the vhost name.
func vhostFromTcURL(tcURL string) string {
	u, err := url.Parse(tcURL)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("vhost"); v != "" {
		return v
	}
	return u.Hostname()
}

// refererAllowed reports whether pageURL's host matches one of domains by
// suffix (so "example.com" matches both "example.com" and
// "cdn.example.com", mirroring SRS's refer domain matching).
func refererAllowed(pageURL string, domains []string) bool {
	if len(domains) == 0 {
		return false
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// checkVhostEnabled reports whether the vhost named by tcUrl accepts new
// connections at all. A nil policy always accepts.
func checkVhostEnabled(policy *VhostPolicy) bool {
	return policy == nil || !policy.Disabled
}

// checkReferer applies the referer policy for the given role (publish vs.
// play). A nil policy, or one with referer checking off, always passes.
func checkReferer(policy *VhostPolicy, pageURL string, forPublish bool) bool {
	if policy == nil || !policy.RefererEnabled {
		return true
	}
	domains := policy.RefererPlayDomains
	if forPublish {
		domains = policy.RefererPublishDomains
	}
	return refererAllowed(pageURL, domains)
}
