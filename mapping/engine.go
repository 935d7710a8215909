// Package mapping applies field-mapping rules to raw event payloads.
package mapping

import (
	"encoding/json"
	"regexp"

	"github.com/sirupsen/logrus"

	"secwatch/models"
)

// Apply runs a priority-sorted mapping list over the raw fields and returns
// the mapped output fields. The list order is authoritative: the first
// mapping to write a target field wins, later (lower-priority) mappings do
// not overwrite it. A mapping that fails to apply is skipped; a bad rule
// never costs the message.
func Apply(raw map[string]string, mappings []models.FieldMapping) map[string]string {
	mapped := make(map[string]string)

	for _, m := range mappings {
		if _, taken := mapped[m.TargetField]; taken {
			continue
		}
		value, ok := raw[m.SourceField]
		if !ok {
			continue
		}

		out, ok := transform(value, m)
		if ok {
			mapped[m.TargetField] = out
		}
	}
	return mapped
}

func transform(value string, m models.FieldMapping) (string, bool) {
	switch m.Transform {
	case models.TransformDirect, "":
		return value, true

	case models.TransformRegex:
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			logrus.WithError(err).WithField("mapping", m.ID).
				Warn("Skipping field mapping with invalid pattern")
			return "", false
		}
		if m.Replacement != "" {
			return re.ReplaceAllString(value, m.Replacement), true
		}
		match := re.FindStringSubmatch(value)
		if match == nil {
			return "", false
		}
		if len(match) > 1 {
			return match[1], true
		}
		return match[0], true

	case models.TransformLookup:
		var table map[string]string
		if err := json.Unmarshal(m.Lookup, &table); err != nil {
			logrus.WithError(err).WithField("mapping", m.ID).
				Warn("Skipping field mapping with invalid lookup table")
			return "", false
		}
		out, found := table[value]
		return out, found

	case models.TransformScript:
		// Script transforms are a placeholder; pass the value through.
		logrus.WithField("mapping", m.ID).
			Debug("Script transform not implemented; copying value unchanged")
		return value, true

	default:
		logrus.WithFields(logrus.Fields{"mapping": m.ID, "transform": m.Transform}).
			Warn("Skipping field mapping with unknown transform")
		return "", false
	}
}
