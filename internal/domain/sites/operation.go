package sites

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Operation is one website-generation attempt for a project.
type Operation struct {
	ID                 uuid.UUID                             `gorm:"type:uuid;primaryKey" json:"id"`
	Status             OperationStatus                       `gorm:"column:status;not null;index:idx_operation_status_created,priority:1" json:"status"`
	Email              string                                `gorm:"column:email;not null;index:idx_operation_email_created,priority:1" json:"email"`
	ProjectName        string                                `gorm:"column:project_name;not null;index" json:"project_name"`
	TemplateID         string                                `gorm:"column:template_id;not null" json:"template_id"`
	Language           string                                `gorm:"column:language;not null;default:en" json:"language"`
	Images             datatypes.JSON                        `gorm:"column:images" json:"images"`
	Langs              datatypes.JSONType[map[string]string] `gorm:"column:langs" json:"langs"`
	TextColors         datatypes.JSONType[map[string]string] `gorm:"column:text_colors" json:"text_colors"`
	SectionBackgrounds datatypes.JSONType[map[string]string] `gorm:"column:section_backgrounds" json:"section_backgrounds"`
	PaymentSessionID   *string                               `gorm:"column:payment_session_id;uniqueIndex" json:"payment_session_id,omitempty"`
	SiteURL            string                                `gorm:"column:site_url" json:"site_url,omitempty"`
	CommitSHA          string                                `gorm:"column:commit_sha" json:"commit_sha,omitempty"`
	Attempts           int                                   `gorm:"column:attempts;not null;default:0" json:"attempts"`
	FailureReason      string                                `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	PaidAt             *time.Time                            `gorm:"column:paid_at" json:"paid_at,omitempty"`
	ClaimedAt          *time.Time                            `gorm:"column:claimed_at;index" json:"claimed_at,omitempty"`
	CompletedAt        *time.Time                            `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeployedAt         *time.Time                            `gorm:"column:deployed_at" json:"deployed_at,omitempty"`
	ExpiresAt          *time.Time                            `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	CreatedAt          time.Time                             `gorm:"not null;index:idx_operation_status_created,priority:2;index:idx_operation_email_created,priority:2" json:"created_at"`
	UpdatedAt          time.Time                             `gorm:"not null" json:"updated_at"`
}

func (Operation) TableName() string { return "operation" }

func (o *Operation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.Language == "" {
		o.Language = "en"
	}
	return nil
}

// Content decodes the customization maps into a snapshot used by generation.
func (o *Operation) Content() (Content, error) {
	images, err := ParseImages(o.Images)
	if err != nil {
		return Content{}, err
	}
	return Content{
		Langs:              nonNil(o.Langs.Data()),
		Images:             images,
		TextColors:         nonNil(o.TextColors.Data()),
		SectionBackgrounds: nonNil(o.SectionBackgrounds.Data()),
	}, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
