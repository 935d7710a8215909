package syslog

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"secwatch/models"
)

func TestParse_BSDWithTagAndPID(t *testing.T) {
	p := NewParser()
	parsed := p.Parse("<13>Jan 5 10:00:00 host1 app[42]: hello", "203.0.113.5")

	if parsed.Severity != models.SeverityLow { // 13 % 8 = 5
		t.Errorf("severity: got %q want %q", parsed.Severity, models.SeverityLow)
	}
	if parsed.Category != "user" { // 13 / 8 = 1
		t.Errorf("category: got %q want %q", parsed.Category, "user")
	}
	if parsed.Metadata.Hostname != "host1" {
		t.Errorf("metadata hostname: got %q", parsed.Metadata.Hostname)
	}
	if parsed.Metadata.AppName != "app" {
		t.Errorf("metadata appName: got %q", parsed.Metadata.AppName)
	}
	if parsed.Metadata.ProcID != "42" {
		t.Errorf("metadata procId: got %q", parsed.Metadata.ProcID)
	}
	if parsed.Message != "hello" {
		t.Errorf("message: got %q", parsed.Message)
	}
	if parsed.RawLog != "<13>Jan 5 10:00:00 host1 app[42]: hello" {
		t.Errorf("rawLog altered: got %q", parsed.RawLog)
	}
	if parsed.Source != "203.0.113.5" {
		t.Errorf("source: got %q", parsed.Source)
	}
	if parsed.Protocol != "syslog" {
		t.Errorf("protocol: got %q", parsed.Protocol)
	}
}

func TestParse_RFC5424(t *testing.T) {
	p := NewParser()
	line := `<165>1 2023-10-01T12:34:56Z host1 app1 2345 ID01 [exampleSDID@32473 iut="3"] Message with structured data`
	parsed := p.Parse(line, "198.51.100.7")

	if parsed.Metadata.OriginalFormat != models.FormatRFC5424 {
		t.Fatalf("originalFormat: got %q", parsed.Metadata.OriginalFormat)
	}
	if parsed.Severity != models.SeverityLow { // 165 % 8 = 5
		t.Errorf("severity: got %q", parsed.Severity)
	}
	if parsed.Category != "local4" { // 165 / 8 = 20
		t.Errorf("category: got %q", parsed.Category)
	}
	if parsed.Metadata.Hostname != "host1" || parsed.Metadata.AppName != "app1" {
		t.Errorf("hostname/appName: got %q/%q", parsed.Metadata.Hostname, parsed.Metadata.AppName)
	}
	if parsed.Metadata.ProcID != "2345" || parsed.Metadata.MsgID != "ID01" {
		t.Errorf("procId/msgId: got %q/%q", parsed.Metadata.ProcID, parsed.Metadata.MsgID)
	}
	sd, ok := parsed.Metadata.StructuredData["exampleSDID@32473"]
	if !ok || sd["iut"] != "3" {
		t.Errorf("structured data not extracted: %v", parsed.Metadata.StructuredData)
	}
	if parsed.Message != "Message with structured data" {
		t.Errorf("message: got %q", parsed.Message)
	}
	want := time.Date(2023, 10, 1, 12, 34, 56, 0, time.UTC)
	if !parsed.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v want %v", parsed.Timestamp, want)
	}
	if parsed.Source != "198.51.100.7" {
		t.Errorf("source must be the network sender, got %q", parsed.Source)
	}
}

func TestParse_StrictRFC3164(t *testing.T) {
	p := NewParser()
	parsed := p.Parse("<34>Oct 11 22:14:15 mymachine su: 'su root' failed for lonvick on /dev/pts/8", "10.0.0.9")

	if parsed.Severity != models.SeverityCritical { // 34 % 8 = 2
		t.Errorf("severity: got %q", parsed.Severity)
	}
	if parsed.Category != "auth" { // 34 / 8 = 4
		t.Errorf("category: got %q", parsed.Category)
	}
	if parsed.Metadata.Hostname != "mymachine" {
		t.Errorf("hostname: got %q", parsed.Metadata.Hostname)
	}
	if parsed.Metadata.AppName != "su" {
		t.Errorf("appName: got %q", parsed.Metadata.AppName)
	}
	if parsed.Message != "'su root' failed for lonvick on /dev/pts/8" {
		t.Errorf("message: got %q", parsed.Message)
	}
}

func TestParse_UnstructuredNeverFails(t *testing.T) {
	p := NewParser()
	input := "not a syslog message at all"
	parsed := p.Parse(input, "203.0.113.5")

	if parsed.Severity != models.SeverityLow { // default priority 13 -> severity 5
		t.Errorf("severity: got %q", parsed.Severity)
	}
	if parsed.Category != "user" {
		t.Errorf("category: got %q", parsed.Category)
	}
	if parsed.Source != "203.0.113.5" {
		t.Errorf("source: got %q", parsed.Source)
	}
	if !strings.Contains(parsed.Message, input) {
		t.Errorf("message lost the original text: got %q", parsed.Message)
	}
	if parsed.RawLog != input {
		t.Errorf("rawLog: got %q want %q", parsed.RawLog, input)
	}
	if parsed.Metadata.OriginalFormat != models.FormatUnknown {
		t.Errorf("originalFormat: got %q", parsed.Metadata.OriginalFormat)
	}
	if parsed.Metadata.Hostname != "203.0.113.5" {
		t.Errorf("fallback hostname should be the sender address, got %q", parsed.Metadata.Hostname)
	}
}

func TestParse_SeverityMappingExhaustive(t *testing.T) {
	want := map[int]string{
		0: models.SeverityCritical,
		1: models.SeverityCritical,
		2: models.SeverityCritical,
		3: models.SeverityHigh,
		4: models.SeverityMedium,
		5: models.SeverityLow,
		6: models.SeverityInfo,
		7: models.SeverityInfo,
	}
	p := NewParser()
	for code := 0; code <= 7; code++ {
		parsed := p.Parse(fmt.Sprintf("<%d>some message", code), "10.0.0.1")
		if parsed.Severity != want[code] {
			t.Errorf("severity %d: got %q want %q", code, parsed.Severity, want[code])
		}
	}
}

func TestParse_FacilityNames(t *testing.T) {
	want := []string{
		"kernel", "user", "mail", "daemon", "auth", "syslog", "printer", "news",
		"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "clock",
		"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
	}
	p := NewParser()
	for facility, name := range want {
		parsed := p.Parse(fmt.Sprintf("<%d>x", facility*8), "10.0.0.1")
		if parsed.Category != name {
			t.Errorf("facility %d: got %q want %q", facility, parsed.Category, name)
		}
	}

	// Facility 24+ is outside the table; a 3-digit priority like 999 decodes
	// to facility 124.
	parsed := p.Parse("<999>x", "10.0.0.1")
	if parsed.Category != "unknown" {
		t.Errorf("out-of-range facility: got %q want %q", parsed.Category, "unknown")
	}
}

func TestParse_RawLogRoundTrip(t *testing.T) {
	inputs := []string{
		"<165>1 2023-10-01T12:34:56Z host1 app1 2345 ID01 - rfc5424 body",
		"<34>Oct 11 22:14:15 mymachine su: bsd body",
		"<13>malformed <<>> nonsense",
		"plain text with no header whatsoever",
		"  padded with whitespace  ",
	}
	p := NewParser()
	for _, input := range inputs {
		parsed := p.Parse(input, "10.0.0.1")
		if parsed.RawLog != strings.TrimSpace(input) {
			t.Errorf("rawLog not byte-identical to trimmed input: got %q want %q",
				parsed.RawLog, strings.TrimSpace(input))
		}
	}
}

func TestParseBSDTimestamp_YearWrap(t *testing.T) {
	p := NewParser()
	now := time.Date(2026, time.January, 2, 8, 0, 0, 0, time.Local)
	p.now = func() time.Time { return now }

	// A December timestamp seen in January belongs to last year.
	if got := p.parseBSDTimestamp("Dec 30 10:00:00").Year(); got != 2025 {
		t.Errorf("year: got %d want 2025", got)
	}

	// A timestamp from the same (new) year stays put.
	if got := p.parseBSDTimestamp("Jan 1 10:00:00").Year(); got != 2026 {
		t.Errorf("year: got %d want 2026", got)
	}

	// Garbage falls back to receipt time.
	if got := p.parseBSDTimestamp("not a timestamp"); !got.Equal(now) {
		t.Errorf("fallback timestamp: got %v want %v", got, now)
	}
}

func TestNormalizeSource(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"203.0.113.5:51423", "203.0.113.5"},
		{"203.0.113.5", "203.0.113.5"},
		{"[::1]:514", "::1"},
		{"::ffff:192.0.2.10", "192.0.2.10"},
		{"[::ffff:192.0.2.10]:40000", "192.0.2.10"},
		{"somehost", "somehost"},
	}
	for _, tc := range cases {
		if got := NormalizeSource(tc.in); got != tc.want {
			t.Errorf("NormalizeSource(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
}
