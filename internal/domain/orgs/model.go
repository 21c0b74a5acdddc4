package orgs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Organization struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name             string    `gorm:"not null"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;uniqueIndex:idx_orgs_stripe_customer_id"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

type MemberStatus string

const (
	MemberActive  MemberStatus = "active"
	MemberInvited MemberStatus = "invited"
	MemberRemoved MemberStatus = "removed"
)

type Member struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID    `gorm:"type:uuid;index;not null"`
	Email          string       `gorm:"not null"`
	Role           string       `gorm:"not null;default:'member'"`
	Status         MemberStatus `gorm:"not null;default:'active'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CountActiveMembers is the membership source for seat reconciliation.
// Invited members occupy a seat; removed ones don't.
func CountActiveMembers(ctx context.Context, db *gorm.DB, orgID uuid.UUID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Member{}).
		Where("organization_id = ? AND status IN ?", orgID, []MemberStatus{MemberActive, MemberInvited}).
		Count(&count).Error
	return count, err
}

// FindByStripeCustomer resolves the org that owns a Stripe customer id.
func FindByStripeCustomer(ctx context.Context, db *gorm.DB, customerID string) (*Organization, error) {
	var org Organization
	if err := db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}
