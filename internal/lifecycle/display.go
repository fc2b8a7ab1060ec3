package lifecycle

import (
	"quote-tracker/internal/domain"
	"quote-tracker/internal/pkg/i18n"
)

// Display is the UI badge for a status.
type Display struct {
	Status   domain.Status `json:"status"`
	Label    string        `json:"label"`
	Color    string        `json:"color"`
	LabelKey string        `json:"label_key"`
}

var displays = map[domain.Status]Display{
	domain.StatusDraft:    {Status: domain.StatusDraft, Label: "Draft", Color: "gray", LabelKey: "STATUS_DRAFT"},
	domain.StatusSent:     {Status: domain.StatusSent, Label: "Sent", Color: "blue", LabelKey: "STATUS_SENT"},
	domain.StatusViewed:   {Status: domain.StatusViewed, Label: "Viewed", Color: "amber", LabelKey: "STATUS_VIEWED"},
	domain.StatusSigned:   {Status: domain.StatusSigned, Label: "Signed", Color: "green", LabelKey: "STATUS_SIGNED"},
	domain.StatusDeclined: {Status: domain.StatusDeclined, Label: "Declined", Color: "red", LabelKey: "STATUS_DECLINED"},
}

// ToDisplay maps a status to its badge. Unknown or empty statuses use the
// draft badge.
func ToDisplay(status domain.Status) Display {
	if d, ok := displays[status]; ok {
		return d
	}
	return displays[domain.StatusDraft]
}

// ToLocalizedDisplay is ToDisplay with the label translated for locale.
func ToLocalizedDisplay(status domain.Status, locale string) Display {
	d := ToDisplay(status)
	if label := i18n.Translate(locale, d.LabelKey); label != d.LabelKey {
		d.Label = label
	}
	return d
}
