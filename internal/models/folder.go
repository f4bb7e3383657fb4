package models

import "fmt"

// Folder identifies one of the synced mailbox folders.
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
)

// SyncOrder is the order folders are walked in by a full sync.
var SyncOrder = []Folder{FolderSent, FolderInbox}

// ParseFolder validates a folder name.
func ParseFolder(name string) (Folder, error) {
	switch Folder(name) {
	case FolderInbox, FolderSent:
		return Folder(name), nil
	default:
		return "", fmt.Errorf("unknown folder %q", name)
	}
}
