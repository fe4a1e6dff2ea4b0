package dispatch

import (
	"strings"

	"github.com/acme/dm-campaign-engine/internal/domain"
)

// RenderTemplate substitutes the supported placeholders into a campaign
// message template. Unknown placeholders pass through untouched.
func RenderTemplate(template, recipientID string, platform *domain.Platform) string {
	replacer := strings.NewReplacer(
		"{recipient_id}", recipientID,
		"{platform}", string(platform.Type),
		"{platform_handle}", platform.Handle,
	)
	return replacer.Replace(template)
}
