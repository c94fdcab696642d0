package domain

import "time"

// AuditEventType classifies an authentication audit event.
type AuditEventType string

const (
	// AuditLoginSuccess records a successful login.
	AuditLoginSuccess AuditEventType = "login_success"

	// AuditLoginFailed records a rejected login attempt.
	AuditLoginFailed AuditEventType = "login_failed"

	// AuditTokenRefresh records a refresh-token rotation.
	AuditTokenRefresh AuditEventType = "token_refresh"

	// AuditLogout records an explicit logout.
	AuditLogout AuditEventType = "logout"
)

// AuditEvent is one append-only authentication event.
type AuditEvent struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Username  string         `json:"username"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	JTI       string         `json:"jti,omitempty"`
	Details   string         `json:"details,omitempty"`
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	Username  string
	EventType AuditEventType
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// AuditPage is one page of audit events plus the unpaged total.
type AuditPage struct {
	Items  []AuditEvent `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// AuditStats aggregates login activity for the sessions dashboard.
type AuditStats struct {
	TotalEvents     int `json:"total_events"`
	LoginsToday     int `json:"logins_today"`
	UniqueUsersWeek int `json:"unique_users_week"`
	FailedTotal     int `json:"failed_total"`
	FailedToday     int `json:"failed_today"`
}

// LogLevel is the severity of a system log entry.
type LogLevel string

const (
	// LogInfo marks routine events.
	LogInfo LogLevel = "info"

	// LogWarning marks degraded but functioning behavior.
	LogWarning LogLevel = "warning"

	// LogError marks failed operations.
	LogError LogLevel = "error"
)

// IsValid returns true if the level is valid.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogInfo, LogWarning, LogError:
		return true
	default:
		return false
	}
}

// SystemLogEntry is one row of the warehouse system log, written by the
// scheduler after each collection cycle and readable through the API.
type SystemLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// SystemLogFilter narrows a system log query. Zero fields match everything;
// Search matches message or details case-insensitively.
type SystemLogFilter struct {
	Level  LogLevel
	Source string
	Search string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// SystemLogPage is one page of log entries plus the unpaged total.
type SystemLogPage struct {
	Items  []SystemLogEntry `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// SystemLogStats aggregates log volume for the logs dashboard.
type SystemLogStats struct {
	Total         int `json:"total"`
	ErrorsToday   int `json:"errors_today"`
	WarningsToday int `json:"warnings_today"`
}
