package models

import "time"

// Original wire formats a message can be classified as.
const (
	FormatRFC3164 = "RFC3164"
	FormatRFC5424 = "RFC5424"
	FormatUnknown = "unknown"
)

// Event severity levels, derived from the 8-level syslog severity.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Metadata carries the structured extras extracted from a syslog header.
// Hostname is whatever the payload claimed; it is kept here for display only
// and never used as the channel identity.
type Metadata struct {
	Priority       int                          `json:"priority"`
	FacilityCode   int                          `json:"facilityCode"`
	Facility       string                       `json:"facility"`
	SeverityCode   int                          `json:"severityCode"`
	SeverityName   string                       `json:"severityName"`
	Hostname       string                       `json:"hostname,omitempty"`
	AppName        string                       `json:"appName,omitempty"`
	ProcID         string                       `json:"procId,omitempty"`
	MsgID          string                       `json:"msgId,omitempty"`
	StructuredData map[string]map[string]string `json:"structuredData,omitempty"`
	OriginalFormat string                       `json:"originalFormat"`
}

// ParsedMessage is the normalized record produced for every received syslog
// message, whichever parse path it took. RawLog always holds the original
// text untouched.
type ParsedMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	RawLog    string    `json:"rawLog"`
	Protocol  string    `json:"protocol"`
	Metadata  Metadata  `json:"metadata"`
}

var severityNames = [8]string{
	"emergency", "alert", "critical", "error",
	"warning", "notice", "informational", "debug",
}

var facilityNames = [24]string{
	"kernel", "user", "mail", "daemon", "auth", "syslog", "printer", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "clock",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

// SeverityLevel maps an 8-level syslog severity code onto the five event
// severity levels. Out-of-range codes degrade to info.
func SeverityLevel(code int) string {
	switch {
	case code >= 0 && code <= 2:
		return SeverityCritical
	case code == 3:
		return SeverityHigh
	case code == 4:
		return SeverityMedium
	case code == 5:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// SeverityName returns the RFC name for a syslog severity code, or "unknown"
// outside 0-7.
func SeverityName(code int) string {
	if code < 0 || code > 7 {
		return "unknown"
	}
	return severityNames[code]
}

// FacilityName returns the fixed name for a syslog facility code, or
// "unknown" outside 0-23.
func FacilityName(code int) string {
	if code < 0 || code > 23 {
		return "unknown"
	}
	return facilityNames[code]
}
