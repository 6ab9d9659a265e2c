package solsync

import (
	"fmt"
	"strings"
)

// CacheKey identifies one fetchable result set: a resource family plus its
// query parameters.
type CacheKey string

// Resource family prefixes used for invalidation.
const (
	ContactsFamily = "contacts:"
	SettingsFamily = "settings:"

	snapshotPrefix = "snapshot:"
)

// Fixed keys.
const (
	StatsKey  CacheKey = "contacts:stats"
	ScriptKey CacheKey = "settings:script"
)

// ListKey generates the cache key of one contacts page.
// Format: contacts:{page}:{perPage}:{q}:{status}
func ListKey(q ListQuery) CacheKey {
	return CacheKey(fmt.Sprintf("%s%d:%d:%s:%s", ContactsFamily, q.Page, q.PerPage, strings.TrimSpace(q.Query), q.Status))
}

// SnapshotKey is the key a CacheKey's snapshot is persisted under.
func (k CacheKey) SnapshotKey() string {
	return snapshotPrefix + string(k)
}

// InFamily reports whether the key belongs to the given resource family.
func (k CacheKey) InFamily(family string) bool {
	return strings.HasPrefix(string(k), family)
}
