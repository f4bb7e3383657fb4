package mailsync

import "github.com/stoik/mailvault/internal/models"

// Identify returns the dedup key of item: the protocol message id, else the
// folder-assigned item id. Items with neither are always treated as new.
func Identify(item models.MailItem) (string, bool) {
	if id, ok := item.GetMessageID(); ok {
		return id, true
	}
	if id, ok := item.GetItemID(); ok {
		return id, true
	}
	return "", false
}
