// Package ingest orchestrates per-message processing: channel resolution,
// field mapping, persistence and channel statistics.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"secwatch/mapping"
	"secwatch/models"
)

// Store is the slice of the persistent store the ingestor needs.
type Store interface {
	CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	UpdateChannelStats(ctx context.Context, channelID uint, lastEventAt time.Time) error
	FindFieldMappings(ctx context.Context, channelID uint) ([]models.FieldMapping, error)
}

// Resolver maps source identifiers to channel ids.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (uint, error)
	Invalidate(identifier string)
}

// fieldAliases lists, per canonical field, the payload keys senders commonly
// use for it, most specific first. Resolution is first-match-wins; keeping
// the aliases as data here beats scattering conditionals through the
// pipeline.
var fieldAliases = map[string][]string{
	"sourceIp":        {"sourceIp", "source_ip", "src_ip", "srcip", "src"},
	"destinationIp":   {"destinationIp", "destination_ip", "dest_ip", "dst_ip", "dstip", "dst"},
	"sourcePort":      {"sourcePort", "source_port", "src_port", "spt"},
	"destinationPort": {"destinationPort", "destination_port", "dest_port", "dst_port", "dpt"},
	"severity":        {"severity", "level", "sev"},
	"category":        {"category", "facility"},
	"message":         {"message", "msg", "description"},
	"timestamp":       {"timestamp", "time", "@timestamp", "eventTime"},
	"hostname":        {"hostname", "host"},
	"protocol":        {"protocol", "proto"},
}

var severityLevels = map[string]bool{
	models.SeverityCritical: true,
	models.SeverityHigh:     true,
	models.SeverityMedium:   true,
	models.SeverityLow:      true,
	models.SeverityInfo:     true,
}

// Ingestor persists normalized security events. It is safe for concurrent
// use; all mutable state lives in the resolver and the store.
type Ingestor struct {
	store    Store
	resolver Resolver
}

func NewIngestor(store Store, resolver Resolver) *Ingestor {
	return &Ingestor{store: store, resolver: resolver}
}

// IngestParsed persists one message coming out of the syslog parser.
// Returns the external event id.
func (i *Ingestor) IngestParsed(ctx context.Context, parsed models.ParsedMessage) (string, error) {
	raw := map[string]string{
		"message":   parsed.Message,
		"severity":  parsed.Severity,
		"category":  parsed.Category,
		"timestamp": parsed.Timestamp.Format(time.RFC3339Nano),
		"source":    parsed.Source,
		"protocol":  parsed.Protocol,
		"rawLog":    parsed.RawLog,
		"hostname":  parsed.Metadata.Hostname,
		"appName":   parsed.Metadata.AppName,
		"procId":    parsed.Metadata.ProcID,
		"msgId":     parsed.Metadata.MsgID,
	}
	return i.ingest(ctx, raw, parsed.Source, &parsed.Metadata)
}

// Ingest persists one pre-structured payload, as submitted over HTTP. The
// sender's network address is the preferred channel identity; payloads
// arriving without one may declare a source or host field instead.
func (i *Ingestor) Ingest(ctx context.Context, fields map[string]string, senderAddr string) (string, error) {
	identifier := senderAddr
	if identifier == "" {
		identifier = fields["source"]
	}
	if identifier == "" {
		identifier = firstAlias(fields, "hostname")
	}
	return i.ingest(ctx, fields, identifier, nil)
}

func (i *Ingestor) ingest(ctx context.Context, raw map[string]string, identifier string, meta *models.Metadata) (string, error) {
	channelID, err := i.resolver.Resolve(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("resolve channel for %s: %w", identifier, err)
	}

	// A mapping lookup or application failure costs the mapped fields, not
	// the message.
	var mapped map[string]string
	if mappings, err := i.store.FindFieldMappings(ctx, channelID); err != nil {
		logrus.WithError(err).WithField("channel", channelID).
			Warn("Field mapping lookup failed; ingesting raw fields only")
	} else {
		mapped = mapping.Apply(raw, mappings)
	}

	event := i.buildEvent(raw, mapped, identifier, channelID, meta)

	if err := i.store.CreateSecurityEvent(ctx, event); err != nil {
		if !errors.Is(err, gorm.ErrForeignKeyViolated) {
			return "", fmt.Errorf("persist event: %w", err)
		}
		// The cached channel was deleted out from under us. Re-resolve once
		// (recreating the channel) and retry; a second failure is fatal for
		// this message.
		i.resolver.Invalidate(identifier)
		freshID, rerr := i.resolver.Resolve(ctx, identifier)
		if rerr != nil {
			return "", fmt.Errorf("re-resolve channel for %s: %w", identifier, rerr)
		}
		event.ChannelID = freshID
		if err := i.store.CreateSecurityEvent(ctx, event); err != nil {
			return "", fmt.Errorf("persist event after channel re-resolve: %w", err)
		}
	}

	if err := i.store.UpdateChannelStats(ctx, event.ChannelID, event.Timestamp); err != nil {
		logrus.WithError(err).WithField("channel", event.ChannelID).
			Warn("Failed to update channel statistics")
	}

	return event.EventID, nil
}

func (i *Ingestor) buildEvent(raw, mapped map[string]string, identifier string, channelID uint, meta *models.Metadata) *models.SecurityEvent {
	pick := func(canonical string) string {
		if v, ok := mapped[canonical]; ok && v != "" {
			return v
		}
		return firstAlias(raw, canonical)
	}

	severity := pick("severity")
	if !severityLevels[severity] {
		severity = models.SeverityInfo
	}
	category := pick("category")
	if category == "" {
		category = "unknown"
	}
	protocol := pick("protocol")
	if protocol == "" {
		protocol = "syslog"
	}

	timestamp := time.Now()
	if v := pick("timestamp"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			timestamp = t
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			timestamp = t
		}
	}

	rawLog := raw["rawLog"]
	if rawLog == "" {
		if b, err := json.Marshal(raw); err == nil {
			rawLog = string(b)
		}
	}

	return &models.SecurityEvent{
		EventID:   uuid.NewString(),
		ChannelID: channelID,
		Timestamp: timestamp,
		Severity:  severity,
		Category:  category,
		Source:    identifier,
		Message:   pick("message"),
		Protocol:  protocol,
		RawLog:    rawLog,
		Fields:    i.fieldsBlob(raw, mapped, meta),
	}
}

// fieldsBlob merges the raw payload, the resolved canonical aliases and the
// mapped fields (mapped values win) into the event's JSON field bag.
func (i *Ingestor) fieldsBlob(raw, mapped map[string]string, meta *models.Metadata) datatypes.JSON {
	blob := make(map[string]any, len(raw)+len(mapped)+1)
	for k, v := range raw {
		if v != "" {
			blob[k] = v
		}
	}
	for canonical := range fieldAliases {
		if v := firstAlias(raw, canonical); v != "" {
			blob[canonical] = v
		}
	}
	for k, v := range mapped {
		blob[k] = v
	}
	if meta != nil {
		blob["metadata"] = meta
	}

	b, err := json.Marshal(blob)
	if err != nil {
		logrus.WithError(err).Warn("Failed to encode event fields")
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

// firstAlias resolves a canonical field against the raw payload using the
// alias table, first match wins.
func firstAlias(raw map[string]string, canonical string) string {
	for _, key := range fieldAliases[canonical] {
		if v, ok := raw[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
