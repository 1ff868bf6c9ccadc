package plugins

import (
	"context"
	"regexp"
	"strings"

	"github.com/tuna/fishroom/internal/bus"
)

var imageLinkRe = regexp.MustCompile(`(?i)^https?://\S+\.(?:png|jpe?g|gif)$`)

// ImageLink is an ingress filter: a text message whose whole content is
// a bare image URL becomes a photo, so capable targets render the image
// instead of the link.
func ImageLink(ctx context.Context, m *bus.Message) {
	if m.MType != bus.Text {
		return
	}
	url := strings.TrimSpace(m.Content)
	if imageLinkRe.MatchString(url) {
		m.MType = bus.Photo
		m.MediaURL = url
	}
}
