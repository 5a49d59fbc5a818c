// Package subband implements the filename contract for DSA-110 sub-band
// files: the observation group key (timestamp) and sub-band slot index are
// recoverable from the filename alone, without opening the file.
package subband

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GroupKeyLayout is the canonical group-key format, e.g. "2025-10-02T15:41:35".
const GroupKeyLayout = "2006-01-02T15:04:05"

// PlaceholderSuffix marks synthesized filler files for missing slots.
const PlaceholderSuffix = ".placeholder.hdf5"

// filePattern matches real sub-band files and synthesized placeholders,
// e.g. "2025-10-02T15:41:35_sb05.hdf5".
var filePattern = regexp.MustCompile(
	`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})_sb(\d{2})(\.placeholder)?\.hdf5$`)

// ParseFilename extracts the group key and slot index from a sub-band
// filename. The third return is false if the name does not match the
// contract.
func ParseFilename(name string) (string, int, bool) {
	m := filePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	slot, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], slot, true
}

// IsSubbandFile reports whether a filename looks like a sub-band file.
func IsSubbandFile(name string) bool {
	return filePattern.MatchString(name)
}

// IsPlaceholderName reports whether a filename is a synthesized placeholder.
func IsPlaceholderName(name string) bool {
	return strings.HasSuffix(name, PlaceholderSuffix)
}

// Filename returns the canonical filename for a (group key, slot) pair.
func Filename(groupKey string, slot int) string {
	return fmt.Sprintf("%s_sb%02d.hdf5", groupKey, slot)
}

// PlaceholderFilename returns the canonical placeholder filename for a slot.
func PlaceholderFilename(groupKey string, slot int) string {
	return fmt.Sprintf("%s_sb%02d%s", groupKey, slot, PlaceholderSuffix)
}

// NormalizeGroupKey canonicalizes a group key to GroupKeyLayout. It accepts
// keys with a space instead of the "T" separator and surrounding whitespace,
// which older upstream recorders produced.
func NormalizeGroupKey(key string) (string, error) {
	s := strings.TrimSpace(key)
	if t, err := time.Parse(GroupKeyLayout, s); err == nil {
		return t.Format(GroupKeyLayout), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.Format(GroupKeyLayout), nil
	}
	return "", fmt.Errorf("subband: invalid group key %q", key)
}

// GroupTime parses a canonical group key into its observation timestamp (UTC).
func GroupTime(key string) (time.Time, error) {
	t, err := time.Parse(GroupKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("subband: parse group key %q: %w", key, err)
	}
	return t.UTC(), nil
}
