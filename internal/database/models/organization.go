package models

// Organization is the tenant boundary: every task, credential, match and
// room belongs to exactly one organization.
type Organization struct {
	Base
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	// Relationships
	Tasks       []ScheduledTask     `gorm:"foreignKey:OrganizationID" json:"-"`
	Credentials []HostingCredential `gorm:"foreignKey:OrganizationID" json:"-"`
	Matches     []Match             `gorm:"foreignKey:OrganizationID" json:"-"`
	LiveRaces   []LiveRace          `gorm:"foreignKey:OrganizationID" json:"-"`
	Rooms       []RaceRoom          `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}
