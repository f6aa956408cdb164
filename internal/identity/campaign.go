package identity

import (
	"net/url"

	"github.com/lucentlabs/beacon/backend/internal/tracking"
)

// clickIDParams maps ad-network click-id query parameters to their network label.
var clickIDParams = map[string]string{
	"gclid":   "google",
	"fbclid":  "meta",
	"msclkid": "microsoft",
	"ttclid":  "tiktok",
	"twclid":  "twitter",
}

// CapturedCampaign is the first-touch-of-session campaign state: the campaign
// query parameters and ad click ids seen on the first tagged page view of a
// session, plus the URL that landed the visitor there.
type CapturedCampaign struct {
	Campaign   tracking.CampaignParams `json:"campaign"`
	ClickIDs   map[string]string       `json:"click_ids,omitempty"`
	LandingURL string                  `json:"landing_url,omitempty"`
}

// Empty reports whether nothing campaign-relevant was captured.
func (c CapturedCampaign) Empty() bool {
	return c.Campaign.Empty() && len(c.ClickIDs) == 0
}

// ParseCampaignURL extracts campaign parameters and click ids from a page URL.
// An unparseable URL yields an empty capture.
func ParseCampaignURL(rawURL string) CapturedCampaign {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return CapturedCampaign{}
	}
	query := parsed.Query()

	captured := CapturedCampaign{
		Campaign: tracking.CampaignParams{
			Source:   query.Get("utm_source"),
			Medium:   query.Get("utm_medium"),
			Campaign: query.Get("utm_campaign"),
			Content:  query.Get("utm_content"),
			Term:     query.Get("utm_term"),
			Sub1:     query.Get("sub1"),
			Sub2:     query.Get("sub2"),
		},
	}

	for param, network := range clickIDParams {
		value := query.Get(param)
		if value == "" {
			continue
		}
		if captured.ClickIDs == nil {
			captured.ClickIDs = make(map[string]string)
		}
		captured.ClickIDs[network] = value
	}

	if !captured.Empty() {
		captured.LandingURL = rawURL
	}
	return captured
}
