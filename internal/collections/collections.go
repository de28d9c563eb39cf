// Package collections is the registry of synced row collections: table
// layout, upsert key, range-query column and access policy for each one.
// The row-store service derives its SQL and its authorization checks from
// this registry; the engine uses the collection names as stream targets.
package collections

// Collection names, used as URL path segments by the row API.
const (
	Devices         = "devices"
	LedgerEntries   = "ledger_entries"
	LibraryItems    = "library_items"
	ConsumptionLog  = "consumption_log"
	ActivityRollups = "activity_rollups"
	Achievements    = "achievements"
	Profiles        = "profiles"
	FriendRequests  = "friend_requests"
	Friendships     = "friendships"
)

// Policy controls who may read and write rows of a collection.
type Policy int

const (
	// PolicyOwn: rows visible and writable only by their owning user.
	PolicyOwn Policy = iota
	// PolicyOwnWriteFriendRead: writable by the owner, readable by the
	// owner and accepted friends. Feeds cross-user summaries.
	PolicyOwnWriteFriendRead
	// PolicyPublicReadOwnWrite: readable by any authenticated user,
	// writable only for the caller's own row (profiles).
	PolicyPublicReadOwnWrite
	// PolicyParticipant: visible to either participant column; writes
	// require the caller to be a participant of the written row.
	PolicyParticipant
)

// Collection describes one synced collection.
type Collection struct {
	Name       string
	Table      string
	KeyColumns []string // upsert conflict target
	TimeColumn string   // default strictly-greater-than range column
	Columns    []string // full writable column set, keys included
	Policy     Policy

	// AltTimeColumns may be selected instead of TimeColumn for range
	// queries (e.g. rollups range on hour_start for window reads but on
	// updated_at for sync pulls).
	AltTimeColumns []string

	// OwnerColumn is the column scoping rows to a user; empty for
	// participant collections without a single owner.
	OwnerColumn string

	// ParticipantColumns are the two sides of a participant collection.
	ParticipantColumns [2]string

	// DeviceColumn supports exclude-device pulls; empty when rows are not
	// device-originated.
	DeviceColumn string

	// FilterColumns are additionally allowed in eq/in query filters.
	FilterColumns []string
}

var registry = map[string]Collection{
	Devices: {
		Name:          Devices,
		Table:         "devices",
		KeyColumns:    []string{"user_id", "id"},
		TimeColumn:    "updated_at",
		Columns:       []string{"id", "user_id", "display_name", "platform", "last_seen_at", "updated_at"},
		Policy:        PolicyOwnWriteFriendRead,
		OwnerColumn:   "user_id",
		FilterColumns: []string{"id", "user_id"},
	},
	LedgerEntries: {
		Name:          LedgerEntries,
		Table:         "ledger_entries",
		KeyColumns:    []string{"sync_id"},
		TimeColumn:    "occurred_at",
		Columns:       []string{"sync_id", "user_id", "device_id", "kind", "amount", "note", "occurred_at"},
		Policy:        PolicyOwn,
		OwnerColumn:   "user_id",
		DeviceColumn:  "device_id",
		FilterColumns: []string{"user_id"},
	},
	LibraryItems: {
		Name:          LibraryItems,
		Table:         "library_items",
		KeyColumns:    []string{"sync_id"},
		TimeColumn:    "updated_at",
		Columns:       []string{"sync_id", "user_id", "device_id", "url", "title", "note", "purpose", "price", "saved_at", "consumed_at", "updated_at"},
		Policy:        PolicyOwn,
		OwnerColumn:   "user_id",
		DeviceColumn:  "device_id",
		FilterColumns: []string{"user_id"},
	},
	ConsumptionLog: {
		Name:          ConsumptionLog,
		Table:         "consumption_log",
		KeyColumns:    []string{"sync_id"},
		TimeColumn:    "occurred_at",
		Columns:       []string{"sync_id", "user_id", "device_id", "kind", "ref_sync_id", "duration_sec", "occurred_at"},
		Policy:        PolicyOwnWriteFriendRead,
		OwnerColumn:   "user_id",
		DeviceColumn:  "device_id",
		FilterColumns: []string{"kind", "user_id"},
	},
	ActivityRollups: {
		Name:           ActivityRollups,
		Table:          "activity_rollups",
		KeyColumns:     []string{"user_id", "device_id", "hour_start"},
		TimeColumn:     "updated_at",
		Columns:        []string{"user_id", "device_id", "hour_start", "productive_sec", "neutral_sec", "frivolity_sec", "idle_sec", "updated_at"},
		Policy:         PolicyOwnWriteFriendRead,
		OwnerColumn:    "user_id",
		DeviceColumn:   "device_id",
		FilterColumns:  []string{"user_id", "device_id"},
		AltTimeColumns: []string{"hour_start"},
	},
	Achievements: {
		Name:          Achievements,
		Table:         "achievements",
		KeyColumns:    []string{"sync_id"},
		TimeColumn:    "earned_at",
		Columns:       []string{"sync_id", "user_id", "device_id", "code", "earned_at"},
		Policy:        PolicyOwnWriteFriendRead,
		OwnerColumn:   "user_id",
		DeviceColumn:  "device_id",
		FilterColumns: []string{"sync_id", "user_id"},
	},
	Profiles: {
		Name:          Profiles,
		Table:         "profiles",
		KeyColumns:    []string{"user_id"},
		TimeColumn:    "updated_at",
		Columns:       []string{"user_id", "handle", "display_name", "color_token", "pinned_achievements", "updated_at"},
		Policy:        PolicyPublicReadOwnWrite,
		OwnerColumn:   "user_id",
		FilterColumns: []string{"user_id", "handle"},
	},
	FriendRequests: {
		Name:               FriendRequests,
		Table:              "friend_requests",
		KeyColumns:         []string{"id"},
		TimeColumn:         "updated_at",
		Columns:            []string{"id", "requester_id", "recipient_id", "status", "created_at", "updated_at"},
		Policy:             PolicyParticipant,
		ParticipantColumns: [2]string{"requester_id", "recipient_id"},
		FilterColumns:      []string{"id", "requester_id", "recipient_id", "status"},
	},
	Friendships: {
		Name:               Friendships,
		Table:              "friendships",
		KeyColumns:         []string{"id"},
		TimeColumn:         "created_at",
		Columns:            []string{"id", "user_id", "friend_id", "created_at"},
		Policy:             PolicyParticipant,
		ParticipantColumns: [2]string{"user_id", "friend_id"},
		FilterColumns:      []string{"id", "user_id", "friend_id"},
	},
}

// columnTypes maps column names to their SQL type. Dynamic upsert SQL casts
// every placeholder so JSON-decoded values (strings, float64) land in typed
// columns. Column names are uniform across collections, so one map suffices.
var columnTypes = map[string]string{
	"id":                  "uuid",
	"sync_id":             "uuid",
	"ref_sync_id":         "uuid",
	"user_id":             "uuid",
	"device_id":           "uuid",
	"friend_id":           "uuid",
	"requester_id":        "uuid",
	"recipient_id":        "uuid",
	"occurred_at":         "timestamptz",
	"updated_at":          "timestamptz",
	"created_at":          "timestamptz",
	"last_seen_at":        "timestamptz",
	"saved_at":            "timestamptz",
	"consumed_at":         "timestamptz",
	"earned_at":           "timestamptz",
	"hour_start":          "timestamptz",
	"amount":              "bigint",
	"price":               "bigint",
	"duration_sec":        "bigint",
	"productive_sec":      "bigint",
	"neutral_sec":         "bigint",
	"frivolity_sec":       "bigint",
	"idle_sec":            "bigint",
	"pinned_achievements": "jsonb",
}

// TypeOf returns the SQL type of col, defaulting to text.
func (c Collection) TypeOf(col string) string {
	if t, ok := columnTypes[col]; ok {
		return t
	}
	return "text"
}

// Get returns the collection definition for name.
func Get(name string) (Collection, bool) {
	c, ok := registry[name]
	return c, ok
}

// Names returns all registered collection names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}

// HasColumn reports whether col is part of the collection's column set.
func (c Collection) HasColumn(col string) bool {
	for _, x := range c.Columns {
		if x == col {
			return true
		}
	}
	return false
}

// Filterable reports whether col may appear in an eq/in filter.
func (c Collection) Filterable(col string) bool {
	for _, x := range c.FilterColumns {
		if x == col {
			return true
		}
	}
	return c.DeviceColumn != "" && col == c.DeviceColumn
}

// TimeColumnAllowed reports whether col may drive a range query.
func (c Collection) TimeColumnAllowed(col string) bool {
	if col == c.TimeColumn {
		return true
	}
	for _, x := range c.AltTimeColumns {
		if x == col {
			return true
		}
	}
	return false
}

// IsKey reports whether col belongs to the conflict target.
func (c Collection) IsKey(col string) bool {
	for _, x := range c.KeyColumns {
		if x == col {
			return true
		}
	}
	return false
}
