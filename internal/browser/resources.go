package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests for the listed resource types. The
// dashboard values are text; images and fonts only slow the first load.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// blockSet maps config names (plural) to CDP resource types.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		switch t = strings.ToLower(strings.TrimSpace(t)); t {
		case "images":
			set["image"] = true
		case "fonts":
			set["font"] = true
		case "stylesheets":
			set["stylesheet"] = true
		default:
			set[t] = true
		}
	}
	return set
}
