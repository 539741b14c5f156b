package model

import "time"

// RelayRecord is the persisted form of a registered relay
type RelayRecord struct {
	BaseModel
	RelayID         string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"relayId"`
	Alias           string    `gorm:"type:varchar(255);not null;default:''" json:"alias"`
	CertFingerprint string    `gorm:"type:varchar(128);not null;index" json:"certFingerprint"`
	RegisteredAt    time.Time `gorm:"not null" json:"registeredAt"`
}

// TableName specifies the table name for RelayRecord
func (RelayRecord) TableName() string {
	return "relays"
}
