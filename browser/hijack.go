package browser

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to CDP resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// blockedHosts are ad, tracking and consent-prompt hosts. Dropping them
// keeps banners and late-loading ad slots out of screenshots and lets the
// stability wait converge sooner.
var blockedHosts = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"connect.facebook.net":  {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"chartbeat.com":         {},
	"media.net":             {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"krxd.net":              {},
	"sharethis.com":         {},
	"addthis.com":           {},
	// consent management platforms
	"consensu.org":     {},
	"cookielaw.org":    {},
	"onetrust.com":     {},
	"cookiebot.com":    {},
	"quantcast.com":    {},
	"trustarc.com":     {},
	"usercentrics.eu":  {},
	"didomi.io":        {},
	"privacy-mgmt.com": {},
}

// blocker decides which requests a tab drops.
type blocker struct {
	types    map[proto.NetworkResourceType]struct{}
	blockAds bool
}

func newBlocker(blockedTypes []string, blockAds bool) *blocker {
	b := &blocker{
		types:    make(map[proto.NetworkResourceType]struct{}, len(blockedTypes)),
		blockAds: blockAds,
	}
	for _, name := range blockedTypes {
		if rt, ok := resourceTypes[name]; ok {
			b.types[rt] = struct{}{}
		}
	}
	return b
}

func (b *blocker) empty() bool {
	return len(b.types) == 0 && !b.blockAds
}

// blocks reports whether a request for rawURL of type rt should fail.
func (b *blocker) blocks(rt proto.NetworkResourceType, rawURL string) bool {
	if _, ok := b.types[rt]; ok {
		return true
	}
	if !b.blockAds {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isBlockedHost(u.Hostname())
}

// isBlockedHost matches host or any of its parent domains.
func isBlockedHost(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := blockedHosts[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
	return false
}

// setupHijack installs the request filter on page and returns the running
// router, or nil when nothing is blocked. The router must be stopped when
// the tab closes.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool) *rod.HijackRouter {
	b := newBlocker(blockedTypes, blockAds)
	if b.empty() {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if b.blocks(ctx.Request.Type(), ctx.Request.URL().String()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()

	return router
}
