package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Channel represents one distinguishable log source, keyed by the sender's
// network address or its self-declared host. Channels are created lazily by
// the ingestion pipeline on first sight of a source and accumulate usage
// statistics from then on. Ingestion never deletes a channel; deletion is an
// administrative action the resolver has to tolerate.
//
// No soft-delete column: an administratively deleted channel must free its
// unique source identifier so ingestion can recreate it.
type Channel struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	SourceIdentifier string     `gorm:"uniqueIndex;size:255;not null" json:"sourceIdentifier"`
	Name             string     `gorm:"size:255" json:"name"`
	Description      string     `gorm:"size:1024" json:"description"`
	Enabled          bool       `gorm:"default:true" json:"enabled"`
	EventCount       int64      `gorm:"default:0" json:"eventCount"`
	LastEventAt      *time.Time `json:"lastEventAt"`
}

// SecurityEvent is one ingested message. Rows are written once by the
// ingestion pipeline and never mutated by it afterwards; triage and status
// changes belong to the administrative layer.
type SecurityEvent struct {
	gorm.Model
	EventID   string         `gorm:"uniqueIndex;size:36;not null" json:"eventId"`
	ChannelID uint           `gorm:"index;not null" json:"channelId"`
	Channel   Channel        `json:"-"`
	Timestamp time.Time      `gorm:"index" json:"timestamp"`
	Severity  string         `gorm:"index;size:16" json:"severity"`
	Category  string         `gorm:"index;size:32" json:"category"`
	Source    string         `gorm:"size:255" json:"source"`
	Message   string         `gorm:"type:text" json:"message"`
	Protocol  string         `gorm:"size:16" json:"protocol"`
	RawLog    string         `gorm:"type:text" json:"rawLog"`
	Fields    datatypes.JSON `json:"fields"`
}

// Transform kinds supported by field mappings.
const (
	TransformDirect = "direct"
	TransformRegex  = "regex"
	TransformLookup = "lookup"
	TransformScript = "script"
)

// FieldMapping is a rule translating one source payload field into one
// canonical event field. A nil ChannelID makes the mapping global. Mappings
// are applied in descending priority order; among equal priorities a
// channel-specific mapping wins over a global one.
type FieldMapping struct {
	gorm.Model
	ChannelID   *uint          `gorm:"index" json:"channelId"`
	SourceField string         `gorm:"size:255;not null" json:"sourceField"`
	TargetField string         `gorm:"size:255;not null" json:"targetField"`
	Transform   string         `gorm:"size:16;default:direct" json:"transform"`
	Pattern     string         `gorm:"size:1024" json:"pattern"`
	Replacement string         `gorm:"size:1024" json:"replacement"`
	Lookup      datatypes.JSON `json:"lookup"`
	Priority    int            `gorm:"default:0" json:"priority"`
	Enabled     bool           `json:"enabled"`
}

// Setting is a key/value pair from the administrative settings store. Values
// are string-encoded; the config package coerces them to typed values.
type Setting struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex;size:255;not null" json:"key"`
	Value string `gorm:"size:1024" json:"value"`
}
