package db

import (
	"testing"
	"time"

	"relayd/internal/model"
	"relayd/internal/relay"
)

func TestRelayRecordConversion(t *testing.T) {
	registeredAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rel := relay.Relay{
		ID:              "r1",
		Alias:           "edge-1",
		CertFingerprint: "abcd",
		RegisteredAt:    registeredAt,
	}

	rec := FromRelay(rel)
	if rec.RelayID != "r1" || rec.Alias != "edge-1" || rec.CertFingerprint != "abcd" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	back := ToRelay(rec)
	if back != rel {
		t.Errorf("ToRelay(FromRelay()) = %+v, want %+v", back, rel)
	}
}

func TestRelayRecordTableName(t *testing.T) {
	if got := (model.RelayRecord{}).TableName(); got != "relays" {
		t.Errorf("Expected table name 'relays', got %s", got)
	}
}
