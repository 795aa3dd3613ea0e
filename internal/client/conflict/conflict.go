// Package conflict implements field-level conflict detection and the
// resolution strategies applied to divergent records. Everything here is
// pure: resolution output is a payload the caller re-submits through the
// normal mutation path, never a direct snapshot write.
package conflict

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/tillsync/tillsync/internal/models"
)

// systemFields are identity and bookkeeping columns excluded from
// detection: they always differ or are server-owned.
var systemFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

// Detect unions all field names present in either record, excludes system
// fields, and returns the fields whose values are not structurally equal.
// Nested objects and arrays compare recursively.
func Detect(local, remote models.Record) []models.ConflictField {
	var fields []models.ConflictField

	names := make(map[string]bool, len(local)+len(remote))
	for name := range local {
		names[name] = true
	}
	for name := range remote {
		names[name] = true
	}

	// Deterministic order keeps diffs stable for display and tests
	ordered := make([]string, 0, len(names))
	for name := range names {
		if !systemFields[name] {
			ordered = append(ordered, name)
		}
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		lv, rv := local[name], remote[name]
		if equal(lv, rv) {
			continue
		}
		fields = append(fields, models.ConflictField{
			Field:       name,
			LocalValue:  lv,
			RemoteValue: rv,
			IsDifferent: true,
		})
	}

	return fields
}

// New builds a Conflict for a mutation whose remote write was rejected,
// capturing the remote record as returned by the store.
func New(m *models.Mutation, local, remote models.Record) *models.Conflict {
	return &models.Conflict{
		Mutation:   m,
		Table:      m.Table,
		RecordID:   m.RecordID,
		LocalData:  models.CloneRecord(local),
		RemoteData: models.CloneRecord(remote),
		Fields:     Detect(local, remote),
	}
}

// Resolve applies a resolution strategy and returns the payload the caller
// must push as a fresh write.
//
// keep-local and keep-remote return the respective side verbatim. merge
// returns a copy of customMerge when supplied (the caller already chose
// per-field values); otherwise it auto-merges: start from the remote data
// and, only if the local record's updated_at is strictly later, overwrite
// every differing field with the local value.
func Resolve(c *models.Conflict, resolution models.Resolution, customMerge models.Record) (models.Record, error) {
	switch resolution {
	case models.ResolutionKeepLocal:
		return models.CloneRecord(c.LocalData), nil
	case models.ResolutionKeepRemote:
		return models.CloneRecord(c.RemoteData), nil
	case models.ResolutionMerge:
		if customMerge != nil {
			return models.CloneRecord(customMerge), nil
		}
		return autoMerge(c), nil
	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}
}

// Suggest compares updated_at timestamps and proposes the later side;
// ties (or unparsable timestamps on both sides) suggest merge.
func Suggest(c *models.Conflict) models.Resolution {
	localAt, localOK := updatedAt(c.LocalData)
	remoteAt, remoteOK := updatedAt(c.RemoteData)

	switch {
	case localOK && remoteOK && localAt.After(remoteAt):
		return models.ResolutionKeepLocal
	case localOK && remoteOK && remoteAt.After(localAt):
		return models.ResolutionKeepRemote
	default:
		return models.ResolutionMerge
	}
}

// autoMerge is last-writer-wins at record granularity applied field by
// field to the differing subset only.
func autoMerge(c *models.Conflict) models.Record {
	merged := models.CloneRecord(c.RemoteData)
	if merged == nil {
		// A rejection that carried no decodable body leaves the remote
		// side empty
		merged = make(models.Record, len(c.Fields))
	}

	localAt, localOK := updatedAt(c.LocalData)
	remoteAt, remoteOK := updatedAt(c.RemoteData)

	localWins := localOK && (!remoteOK || localAt.After(remoteAt))
	if !localWins {
		return merged
	}

	for _, f := range c.Fields {
		merged[f.Field] = f.LocalValue
	}

	return merged
}

// updatedAt extracts a record's updated_at as a time, accepting time.Time
// values and RFC 3339 strings.
func updatedAt(rec models.Record) (time.Time, bool) {
	switch v := rec["updated_at"].(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// equal performs a structural deep-equality check on two values after
// normalizing them through a JSON round trip, so a Go int and the float64
// the decoder produces compare equal.
func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		// Not JSON-representable; fall back to the raw value
		return v
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}

	return out
}
