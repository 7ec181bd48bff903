package endata

import (
	"net/http"

	"github.com/corpix/uarand"
)

// Identity is the browser identity attached to every registry request. The
// endata endpoint sits behind an origin check, so the Origin/Referer pair
// must match the public site; the User-Agent is rotated per request to
// spread the scan across many apparent browsers.
type Identity struct {
	// Origin and Referer mirror the public endata site.
	Origin  string
	Referer string

	// AcceptLanguage advertised with every request.
	AcceptLanguage string

	// RotateUserAgent picks a fresh random User-Agent per request.
	RotateUserAgent bool

	// UserAgent is used verbatim when rotation is disabled. Useful for
	// tests and reproducible runs.
	UserAgent string
}

// DefaultIdentity matches the public endata cinema data pages.
func DefaultIdentity() Identity {
	return Identity{
		Origin:          "https://ys.endata.cn",
		Referer:         "https://ys.endata.cn/Details/Cinema",
		AcceptLanguage:  "zh-CN,zh;q=0.9",
		RotateUserAgent: true,
	}
}

// apply sets the identity headers on a request.
func (i Identity) apply(req *http.Request) {
	ua := i.UserAgent
	if i.RotateUserAgent {
		ua = uarand.GetRandom()
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if i.Origin != "" {
		req.Header.Set("Origin", i.Origin)
	}
	if i.Referer != "" {
		req.Header.Set("Referer", i.Referer)
	}
	if i.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", i.AcceptLanguage)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
}
