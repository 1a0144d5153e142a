package sites

import "time"

// ConfirmationCode is a short-lived code emailed to confirm a save or update of a project.
type ConfirmationCode struct {
	ProjectName string    `gorm:"column:project_name;primaryKey" json:"project_name"`
	Email       string    `gorm:"column:email;not null" json:"-"`
	CodeHash    string    `gorm:"column:code_hash;not null" json:"-"`
	Attempts    int       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (ConfirmationCode) TableName() string { return "confirmation_code" }
