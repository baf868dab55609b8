package validation

import "regexp"

var (
	// Room slugs come from the hosting service as "category/room-name".
	// Both halves are lowercase alphanumerics with dashes.
	roomSlugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,99}/[a-z0-9][a-z0-9\-]{0,254}$`)

	categoryRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,99}$`)
)

// IsValidRoomSlug checks the category/room-name shape of a hosting slug.
func IsValidRoomSlug(slug string) bool {
	return roomSlugRegex.MatchString(slug)
}

// IsValidCategory checks a hosting category short name.
func IsValidCategory(category string) bool {
	return categoryRegex.MatchString(category)
}
