package syslog

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	syslogv4 "github.com/leodido/go-syslog/v4"
	"github.com/leodido/go-syslog/v4/rfc3164"
	"github.com/leodido/go-syslog/v4/rfc5424"

	"secwatch/models"
)

// Protocol tag stamped on every parsed message.
const Protocol = "syslog"

// Priority assumed when a message carries no <NNN> prefix at all
// (facility "user", severity "notice").
const defaultPriority = 13

var (
	// <13>1 ... — a priority followed by a version digit marks RFC5424.
	rfc5424Prefix = regexp.MustCompile(`^<\d{1,3}>\d `)

	priorityToken = regexp.MustCompile(`^<(\d{1,3})>`)

	// Example: Oct 11 22:14:15 mymachine su[123]: 'su root' failed
	bsdHeader = regexp.MustCompile(`^(?P<ts>[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(?P<host>\S+)\s+(?P<content>.*)$`)

	tagPrefix = regexp.MustCompile(`^(?P<app>[A-Za-z0-9_.\-\/]+)(?:\[(?P<pid>[^\]]+)\])?:\s*(?P<msg>.*)$`)
)

// Parser classifies one syslog message as RFC5424, RFC3164 or unstructured
// and produces a normalized record. It never fails: anything the strict
// grammars reject degrades to a best-effort fallback parse.
//
// A Parser is not safe for concurrent use; create one per connection or
// datagram handler.
type Parser struct {
	strict5424 syslogv4.Machine
	strict3164 syslogv4.Machine
	now        func() time.Time
}

func NewParser() *Parser {
	return &Parser{
		strict5424: rfc5424.NewParser(),
		strict3164: rfc3164.NewParser(rfc3164.WithYear(rfc3164.CurrentYear{})),
		now:        time.Now,
	}
}

// Parse turns one message into a normalized record. senderAddr is the
// network-layer sender address and is always used as the record's source;
// any hostname claimed inside the payload only ends up in the metadata.
func (p *Parser) Parse(message, senderAddr string) models.ParsedMessage {
	trimmed := strings.TrimSpace(message)
	source := NormalizeSource(senderAddr)

	if parsed, ok := p.parseStrict(trimmed, source); ok {
		return parsed
	}
	return p.parseFallback(trimmed, source)
}

// parseStrict runs the RFC5424 and RFC3164 grammar machines. Both run in
// strict mode so that any violation falls through to the fallback instead of
// yielding a half-filled record.
func (p *Parser) parseStrict(trimmed, source string) (models.ParsedMessage, bool) {
	if !strings.HasPrefix(trimmed, "<") {
		return models.ParsedMessage{}, false
	}

	if rfc5424Prefix.MatchString(trimmed) {
		if msg, err := p.strict5424.Parse([]byte(trimmed)); err == nil {
			if m, ok := msg.(*rfc5424.SyslogMessage); ok {
				return p.fromRFC5424(m, trimmed, source), true
			}
		}
		return models.ParsedMessage{}, false
	}

	if msg, err := p.strict3164.Parse([]byte(trimmed)); err == nil {
		if m, ok := msg.(*rfc3164.SyslogMessage); ok {
			return p.fromRFC3164(m, trimmed, source), true
		}
	}
	return models.ParsedMessage{}, false
}

func (p *Parser) fromRFC5424(m *rfc5424.SyslogMessage, trimmed, source string) models.ParsedMessage {
	parsed := p.fromBase(&m.Base, trimmed, source, models.FormatRFC5424)
	if m.StructuredData != nil && len(*m.StructuredData) > 0 {
		parsed.Metadata.StructuredData = *m.StructuredData
	}
	return parsed
}

func (p *Parser) fromRFC3164(m *rfc3164.SyslogMessage, trimmed, source string) models.ParsedMessage {
	return p.fromBase(&m.Base, trimmed, source, models.FormatRFC3164)
}

func (p *Parser) fromBase(base *syslogv4.Base, trimmed, source, format string) models.ParsedMessage {
	pri := defaultPriority
	if base.Priority != nil {
		pri = int(*base.Priority)
	}
	facility := pri / 8
	severity := pri % 8

	ts := p.now()
	if base.Timestamp != nil {
		ts = *base.Timestamp
	}

	parsed := models.ParsedMessage{
		Timestamp: ts,
		Severity:  models.SeverityLevel(severity),
		Category:  models.FacilityName(facility),
		Source:    source,
		Message:   deref(base.Message),
		RawLog:    trimmed,
		Protocol:  Protocol,
		Metadata: models.Metadata{
			Priority:       pri,
			FacilityCode:   facility,
			Facility:       models.FacilityName(facility),
			SeverityCode:   severity,
			SeverityName:   models.SeverityName(severity),
			Hostname:       deref(base.Hostname),
			AppName:        deref(base.Appname),
			ProcID:         deref(base.ProcID),
			MsgID:          deref(base.MsgID),
			OriginalFormat: format,
		},
	}
	return parsed
}

// parseFallback handles everything the strict grammars reject: a leading
// <NNN> token is honored if present, the classic BSD header shape is matched
// best-effort, and whatever remains becomes the message body.
func (p *Parser) parseFallback(trimmed, source string) models.ParsedMessage {
	pri := defaultPriority
	content := trimmed
	if m := priorityToken.FindStringSubmatch(trimmed); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			pri = v
		}
		content = trimmed[len(m[0]):]
	}
	facility := pri / 8
	severity := pri % 8

	parsed := models.ParsedMessage{
		Timestamp: p.now(),
		Severity:  models.SeverityLevel(severity),
		Category:  models.FacilityName(facility),
		Source:    source,
		Message:   content,
		RawLog:    trimmed,
		Protocol:  Protocol,
		Metadata: models.Metadata{
			Priority:       pri,
			FacilityCode:   facility,
			Facility:       models.FacilityName(facility),
			SeverityCode:   severity,
			SeverityName:   models.SeverityName(severity),
			Hostname:       source,
			OriginalFormat: models.FormatUnknown,
		},
	}

	header := bsdHeader.FindStringSubmatch(content)
	if header == nil {
		return parsed
	}

	parsed.Timestamp = p.parseBSDTimestamp(header[1])
	parsed.Metadata.Hostname = header[2]
	body := header[3]

	if tag := tagPrefix.FindStringSubmatch(body); tag != nil {
		parsed.Metadata.AppName = tag[1]
		parsed.Metadata.ProcID = tag[2]
		body = tag[3]
	}
	parsed.Message = body
	return parsed
}

// parseBSDTimestamp parses "Mmm dd HH:MM:SS" by injecting the current year.
// A resulting date in the future means the message was stamped late last
// year (month wrap at the year boundary), so one year is subtracted.
func (p *Parser) parseBSDTimestamp(value string) time.Time {
	now := p.now()
	t, err := time.ParseInLocation("Jan _2 15:04:05", value, now.Location())
	if err != nil {
		return now
	}
	ts := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	if ts.After(now.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts
}

// NormalizeSource reduces a transport address to a stable source identity:
// the port is dropped and IPv6-mapped IPv4 addresses lose their ::ffff:
// prefix, so the same device yields the same identifier over TCP and UDP.
func NormalizeSource(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return addr
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
