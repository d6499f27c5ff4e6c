package syncedcron

// MinCollectionTTL is the smallest accepted history retention. TTLs
// below it are rejected with a logged warning and expiry is disabled.
const MinCollectionTTL = 300

// Config holds configuration for the Scheduler.
type Config struct {
	// CollectionName is the shared history collection (or table/key
	// namespace) all cooperating instances write to.
	CollectionName string

	// CollectionTTL is how long history records are retained, finished
	// or not, in seconds after startedAt. Zero disables expiry. Values below
	// MinCollectionTTL disable expiry with a warning.
	CollectionTTL int

	// UTC selects UTC for all schedule computation instead of the
	// local zone. Aligned day boundaries and daily "at" times follow
	// this zone.
	UTC bool
}

// DefaultConfig returns the default configuration: collection
// "cronHistory", two-day retention, local time.
func DefaultConfig() Config {
	return Config{
		CollectionName: "cronHistory",
		CollectionTTL:  172800,
		UTC:            false,
	}
}
