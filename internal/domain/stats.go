package domain

import "time"

// StatSample is one (server, database, timestamp) observation appended by
// the activity-stats collector. DBSize is null at insert and backfilled by
// the size collector.
type StatSample struct {
	ID          int64     `json:"id"`
	ServerName  string    `json:"server_name"`
	TS          time.Time `json:"ts"`
	Datname     string    `json:"datname"`
	NumBackends int       `json:"numbackends"`
	XactCommit  int64     `json:"xact_commit"`
	DBSize      *int64    `json:"db_size,omitempty"`
	DiskFree    *int64    `json:"disk_free,omitempty"`
	DiskTotal   *int64    `json:"disk_total,omitempty"`
}

// DBInfo is the warehouse's record of one live database on a server. A
// changed OID under the same datname means the database was dropped and
// recreated.
type DBInfo struct {
	ServerName   string     `json:"server_name"`
	Datname      string     `json:"datname"`
	OID          int64      `json:"oid"`
	CreationTime *time.Time `json:"creation_time,omitempty"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
}

// ActivitySession is one live pg_stat_activity row from a monitored server.
type ActivitySession struct {
	Datname         string     `json:"datname"`
	PID             int        `json:"pid"`
	Usename         string     `json:"usename"`
	ApplicationName string     `json:"application_name"`
	ClientAddr      string     `json:"client_addr"`
	BackendStart    *time.Time `json:"backend_start,omitempty"`
	State           string     `json:"state"`
	StateChange     *time.Time `json:"state_change,omitempty"`
	Query           string     `json:"query"`
}

// AggregationLevel is the time bucket chosen for a timeline query. Levels
// order from finest to coarsest; the level only widens as the queried range
// grows.
type AggregationLevel string

const (
	// AggregationRaw returns stored samples untouched.
	AggregationRaw AggregationLevel = "raw"

	// AggregationHour buckets samples by hour.
	AggregationHour AggregationLevel = "hour"

	// AggregationFourHour buckets samples by four hours.
	AggregationFourHour AggregationLevel = "4hour"

	// AggregationDay buckets samples by calendar day.
	AggregationDay AggregationLevel = "day"
)

// rank orders levels from finest to coarsest.
func (l AggregationLevel) rank() int {
	switch l {
	case AggregationRaw:
		return 0
	case AggregationHour:
		return 1
	case AggregationFourHour:
		return 2
	default:
		return 3
	}
}

// Coarser reports whether l buckets at least as wide as other.
func (l AggregationLevel) Coarser(other AggregationLevel) bool {
	return l.rank() >= other.rank()
}

// ChooseAggregation picks the bucket for a query range: raw up to two days,
// hourly up to two weeks, four-hour up to ninety days, daily beyond.
func ChooseAggregation(from, to time.Time) AggregationLevel {
	deltaDays := to.Sub(from).Seconds() / 86400
	switch {
	case deltaDays <= 2:
		return AggregationRaw
	case deltaDays <= 14:
		return AggregationHour
	case deltaDays <= 90:
		return AggregationFourHour
	default:
		return AggregationDay
	}
}

// ServerTimelinePoint is one aggregated bucket of a server timeline. Points
// carry their database so a range covering many databases stacks cleanly.
type ServerTimelinePoint struct {
	TS          time.Time `json:"ts"`
	Datname     string    `json:"datname"`
	Connections int       `json:"connections"`
	SizeGB      float64   `json:"size_gb"`
}

// DatabaseTimelinePoint is one aggregated bucket of a single database's
// timeline.
type DatabaseTimelinePoint struct {
	TS          time.Time `json:"ts"`
	Connections int       `json:"connections"`
	SizeMB      float64   `json:"size_mb"`
	Commits     int64     `json:"commits"`
}

// DatabaseStatus is one database seen on a server during the queried range.
// Exists reflects a live check against the target, not warehouse history.
type DatabaseStatus struct {
	Name         string     `json:"name"`
	Exists       bool       `json:"exists"`
	CreationTime *time.Time `json:"creation_time"`
}

// ServerOverview summarizes one server's activity over a range.
type ServerOverview struct {
	LastStatUpdate     *time.Time            `json:"last_stat_update"`
	TotalConnections   int64                 `json:"total_connections"`
	TotalSizeGB        float64               `json:"total_size_gb"`
	Databases          []DatabaseStatus      `json:"databases"`
	ConnectionTimeline []ServerTimelinePoint `json:"connection_timeline"`
	Aggregation        AggregationLevel      `json:"aggregation"`
}

// DatabaseDetail is the most recent sized sample of one database.
type DatabaseDetail struct {
	SizeMB      float64    `json:"size_mb"`
	Connections int        `json:"connections"`
	Commits     int64      `json:"commits"`
	LastUpdate  *time.Time `json:"last_update"`
}

// DatabaseOverview summarizes one database's activity over a range.
type DatabaseOverview struct {
	LastStatUpdate   *time.Time              `json:"last_stat_update"`
	TotalConnections int64                   `json:"total_connections"`
	TotalCommits     int64                   `json:"total_commits"`
	TotalSizeMB      float64                 `json:"total_size_mb"`
	CreationTime     *time.Time              `json:"creation_time"`
	MaxConnections   int                     `json:"max_connections"`
	MinConnections   int                     `json:"min_connections"`
	Timeline         []DatabaseTimelinePoint `json:"timeline"`
	Aggregation      AggregationLevel        `json:"aggregation"`
}
