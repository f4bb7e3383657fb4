package models

import "errors"

var (
	// ErrSourceUnavailable means the mail source could not be reached, refused
	// the credentials or timed out.
	ErrSourceUnavailable = errors.New("mail source unavailable")

	// ErrSourceOverloaded is the "too many objects opened" condition: the
	// source stopped serving the current folder listing.
	ErrSourceOverloaded = errors.New("mail source overloaded")

	// ErrItemMalformed marks a source item or attachment missing data the
	// pipeline needs.
	ErrItemMalformed = errors.New("malformed mail item")

	// ErrDuplicate is returned by a store when the external id already exists.
	ErrDuplicate = errors.New("duplicate email")

	// ErrStoreUnavailable means persistence failed for every attempted item.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by lookups that matched nothing.
	ErrNotFound = errors.New("not found")
)
