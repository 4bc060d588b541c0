package cache

import "time"

const (
	// CatalogKey identifies the product catalog snapshot.
	CatalogKey = "catalog"
	// SystemConfigKey identifies the system configuration record.
	SystemConfigKey = "system_config"

	periodPrefix   = "period:"
	previousPrefix = "previous:"
	docPrefix      = "doc:"
)

const keyDate = "2006-01-02"

// PeriodKey identifies the facts of a named period starting on start.
func PeriodKey(period string, start time.Time) string {
	return periodPrefix + period + ":" + start.Format(keyDate)
}

// PreviousKey identifies the facts of the window preceding a named period.
func PreviousKey(period string, start time.Time) string {
	return previousPrefix + period + ":" + start.Format(keyDate)
}

// DocKey identifies a single daily record.
func DocKey(id string) string {
	return docPrefix + id
}

// WindowPrefixes lists the key prefixes that hold per-window fact sets.
func WindowPrefixes() []string {
	return []string{periodPrefix, previousPrefix}
}
