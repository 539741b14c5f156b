package db

import (
	"errors"
	"fmt"

	"relayd/internal/model"
	"relayd/internal/relay"

	"gorm.io/gorm"
)

// RelayRepository persists the relay registry in MySQL.
// It implements registry.Persister.
type RelayRepository struct {
	db *gorm.DB
}

// NewRelayRepository creates a new relay repository
func NewRelayRepository(conn *gorm.DB) *RelayRepository {
	return &RelayRepository{db: conn}
}

// LoadAll returns every persisted relay
func (r *RelayRepository) LoadAll() ([]relay.Relay, error) {
	var records []model.RelayRecord
	if err := r.db.Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query relays: %w", err)
	}

	relays := make([]relay.Relay, 0, len(records))
	for _, rec := range records {
		relays = append(relays, ToRelay(rec))
	}
	return relays, nil
}

// Save inserts a relay; an existing relay id is a conflict
func (r *RelayRepository) Save(rel relay.Relay) error {
	var existing model.RelayRecord
	err := r.db.Where("relay_id = ?", string(rel.ID)).First(&existing).Error
	if err == nil {
		return relay.NewConflictError(rel.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing relay: %w", err)
	}

	record := FromRelay(rel)
	if err := r.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}
	return nil
}

// Delete removes a relay record
func (r *RelayRepository) Delete(id relay.RelayID) error {
	result := r.db.Where("relay_id = ?", string(id)).Delete(&model.RelayRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete relay: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return relay.NewRelayNotFoundError(id)
	}
	return nil
}

// ToRelay converts a record to the domain type
func ToRelay(rec model.RelayRecord) relay.Relay {
	return relay.Relay{
		ID:              relay.RelayID(rec.RelayID),
		Alias:           rec.Alias,
		CertFingerprint: rec.CertFingerprint,
		RegisteredAt:    rec.RegisteredAt,
	}
}

// FromRelay converts the domain type to a record
func FromRelay(rel relay.Relay) model.RelayRecord {
	return model.RelayRecord{
		RelayID:         string(rel.ID),
		Alias:           rel.Alias,
		CertFingerprint: rel.CertFingerprint,
		RegisteredAt:    rel.RegisteredAt,
	}
}
