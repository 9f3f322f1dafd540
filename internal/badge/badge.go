// Package badge builds and mounts the tier badge fragment. Building is
// pure (tier result + display flags in, HTML out); mounting goes through
// the page.Element contract and is idempotent, so a settings change can
// re-render in place.
package badge

import (
	"fmt"
	"html"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/ratiometer/page"
	"github.com/hazyhaar/ratiometer/settings"
	"github.com/hazyhaar/ratiometer/tier"
)

// RenderType selects the mounting context.
type RenderType string

const (
	// WatchBar mounts as a sibling before the actions region of the
	// single detail view.
	WatchBar RenderType = "watch-bar"
	// Thumbnail mounts inside the metadata container of a listing entry.
	Thumbnail RenderType = "thumbnail"
)

const (
	// RootClass tags every badge fragment for removal/lookup.
	RootClass = "tier-badge"
	// WatchBarID identifies the single watch-bar badge.
	WatchBarID = "video-tier-bar-watch"
	// ThumbnailClass marks listing badges.
	ThumbnailClass = "video-tier-badge-thumbnail"

	watchAnchor        = "#actions"
	thumbnailContainer = "#meta, #details"
)

// Build renders the badge fragment for data under the given display flags.
// Lines appear in fixed order; a line is dropped when its flag is off or
// its value is empty, zero, or "N/A".
func Build(data tier.Result, display settings.Display, rt RenderType) string {
	var lines []string
	add := func(show bool, label, value string) {
		if !show || value == "" || value == "N/A" {
			return
		}
		var b strings.Builder
		b.WriteString(`<div class="tier-data-line">`)
		if display.ShowLabels {
			fmt.Fprintf(&b, `<span class="tier-label">%s:</span>`, html.EscapeString(label))
		}
		fmt.Fprintf(&b, `<span>%s</span>`, html.EscapeString(value))
		b.WriteString(`</div>`)
		lines = append(lines, b.String())
	}

	add(display.ShowTier, "Tier", data.Tier)
	add(display.ShowLikeRatio, "Like Ratio", data.LikeRatio)
	if data.Rating != "" && data.Rating != "N/A" {
		add(display.ShowRating, "Rating", data.Rating+"/10")
	}
	if data.TotalVotes > 0 {
		add(display.ShowVotes, "Total Votes", humanize.Comma(data.TotalVotes))
	}
	add(display.ShowEngagementRate, "Engagement Rate", data.EngagementRate)

	classes := RootClass + " " + data.ColorClass
	switch rt {
	case Thumbnail:
		return fmt.Sprintf(`<div class="%s %s">%s</div>`,
			classes, ThumbnailClass, strings.Join(lines, ""))
	default:
		return fmt.Sprintf(`<div id="%s" class="%s">%s</div>`,
			WatchBarID, classes, strings.Join(lines, ""))
	}
}

// Renderer mounts badge fragments onto elements.
type Renderer struct{}

// Render replaces any existing badge under el with a fresh fragment.
// Sibling content outside the badge is never touched.
func (Renderer) Render(el page.Element, data tier.Result, rt RenderType, display settings.Display) error {
	if err := el.RemoveAll("." + RootClass); err != nil {
		return fmt.Errorf("badge: remove previous: %w", err)
	}

	fragment := Build(data, display, rt)
	switch rt {
	case WatchBar:
		if err := el.InsertBefore(watchAnchor, fragment); err != nil {
			return fmt.Errorf("badge: mount watch bar: %w", err)
		}
	default:
		if err := el.AppendInto(thumbnailContainer, fragment); err != nil {
			return fmt.Errorf("badge: mount thumbnail: %w", err)
		}
	}
	return nil
}
