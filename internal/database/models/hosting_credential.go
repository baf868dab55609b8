package models

import "github.com/google/uuid"

// HostingCredential holds the OAuth client an organization's bot uses
// against the race hosting service, scoped to one category. The client
// secret is stored as an age-encrypted blob and never leaves the process
// decrypted except inside the token source.
type HostingCredential struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Name           string    `gorm:"not null" json:"name"`

	// Category is the hosting-service category slug rooms are opened in.
	Category string `gorm:"size:100;not null" json:"category"`
	ClientID string `gorm:"size:255;not null" json:"client_id"`

	// Encrypted client secret (age encrypted blob)
	EncryptedSecret []byte `gorm:"type:bytea;not null" json:"-"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (HostingCredential) TableName() string {
	return "hosting_credentials"
}
