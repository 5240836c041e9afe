package quarantine

import (
	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/state"
)

// EventLog is the persisted shape of the append-only promotion log.
type EventLog struct {
	Blocked []core.PromotionEvent `json:"blocked"`
}

// LoadRecords reads the quarantine map from disk. Missing or corrupt
// files come back empty; missing fields of old records are defaulted so
// state written by earlier versions loads without migration.
func LoadRecords(path string) map[string]core.QuarantineRecord {
	raw := make(map[string]core.QuarantineRecord)
	state.Load(path, &raw)

	records := make(map[string]core.QuarantineRecord, len(raw))
	for domain, rec := range raw {
		d := core.Normalize(domain)
		if d == "" {
			continue
		}
		if rec.FirstSeen == 0 {
			rec.FirstSeen = rec.LastSeen
		}
		if rec.LastSeen == 0 {
			rec.LastSeen = rec.FirstSeen
		}
		if rec.Reasons == nil {
			rec.Reasons = []string{}
		}
		records[d] = rec
	}
	return records
}

// SaveRecords persists the quarantine map.
func SaveRecords(path string, records map[string]core.QuarantineRecord) error {
	return state.Save(path, records)
}

// LoadEvents reads the promotion-event log, empty when absent.
func LoadEvents(path string) EventLog {
	var log EventLog
	state.Load(path, &log)
	if log.Blocked == nil {
		log.Blocked = []core.PromotionEvent{}
	}
	return log
}

// SaveEvents persists the promotion-event log.
func SaveEvents(path string, log EventLog) error {
	return state.Save(path, log)
}
