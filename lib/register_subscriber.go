package lib

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fiffu/pushpanel/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type registerSubscriber struct {
	log *zap.Logger
	db  *gorm.DB
}

type RegistrationResult struct {
	Message    string
	Subscriber *models.Subscriber
	IsNew      bool
}

// RegisterSubscriber links a device's player id to a phone number. New subscribers join the
// default group.
func (r *registerSubscriber) RegisterSubscriber(ctx context.Context, externalID, rawContact string) (*RegistrationResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" || strings.TrimSpace(rawContact) == "" {
		return nil, validationErrorf("externalId and mobileNumber are required")
	}
	contact, ok := normalizeContact(rawContact)
	if !ok {
		return nil, validationErrorf("invalid mobile number format")
	}

	db := r.db.WithContext(ctx)

	var existing models.Subscriber
	tx := db.Preload("Groups").Where("external_id = ?", externalID).Limit(1).Find(&existing)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if tx.RowsAffected > 0 {
		if existing.Contact.String == contact {
			return &RegistrationResult{"Subscriber already exists", &existing, false}, nil
		}
		if err := r.checkContactFree(ctx, contact, existing.ID); err != nil {
			return nil, err
		}
		tx = db.Model(&existing).Update("contact", contact)
		if err := tx.Error; err != nil {
			return nil, err
		}
		existing.Contact = sql.NullString{String: contact, Valid: true}
		r.log.Sugar().Infow("Subscriber contact updated", "subscriber_id", existing.ID)
		return &RegistrationResult{"Mobile number updated successfully", &existing, false}, nil
	}

	if err := r.checkContactFree(ctx, contact, ""); err != nil {
		return nil, err
	}

	group, err := ensureDefaultGroup(ctx, r.db)
	if err != nil {
		return nil, err
	}

	sub := models.Subscriber{
		ExternalID: externalID,
		Contact:    sql.NullString{String: contact, Valid: true},
		Groups:     []models.Group{*group},
	}
	if err := db.Omit("Groups.*").Create(&sub).Error; err != nil {
		return nil, err
	}
	r.log.Sugar().Infow("Subscriber registered", "subscriber_id", sub.ID, "external_id", externalID)
	return &RegistrationResult{"Subscription successful", &sub, true}, nil
}

func (r *registerSubscriber) checkContactFree(ctx context.Context, contact, ownerID string) error {
	taken, err := contactTaken(r.db.WithContext(ctx), contact, ownerID)
	if err != nil {
		return err
	}
	if taken {
		return &ConflictError{"This mobile number is already registered with another device"}
	}
	return nil
}

// contactTaken reports whether a subscriber other than ownerID holds contact.
func contactTaken(db *gorm.DB, contact, ownerID string) (bool, error) {
	var count int64
	tx := db.
		Model(&models.Subscriber{}).
		Where("contact = ?", contact).
		Where("id <> ?", ownerID).
		Count(&count)
	if err := tx.Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SubscriberStatus returns the subscriber for externalID, or nil when there is none.
func (r *registerSubscriber) SubscriberStatus(ctx context.Context, externalID string) (*models.Subscriber, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, validationErrorf("externalId is required")
	}

	var sub models.Subscriber
	tx := r.db.WithContext(ctx).Preload("Groups").Where("external_id = ?", externalID).Limit(1).Find(&sub)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	return &sub, nil
}

// Unsubscribe removes the subscriber from every group. The row itself is kept.
func (r *registerSubscriber) Unsubscribe(ctx context.Context, externalID, rawContact string) (*models.Subscriber, error) {
	externalID = strings.TrimSpace(externalID)
	contact := strings.Join(strings.Fields(rawContact), "")
	if externalID == "" && contact == "" {
		return nil, validationErrorf("either externalId or mobileNumber is required")
	}

	db := r.db.WithContext(ctx)
	query := db.Model(&models.Subscriber{})
	// The player id wins; the contact is only a fallback for callers without one.
	if externalID != "" {
		query = query.Where("external_id = ?", externalID)
	} else {
		query = query.Where("contact = ?", contact)
	}

	var sub models.Subscriber
	tx := query.Limit(1).Find(&sub)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if tx.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	if err := db.Model(&sub).Association("Groups").Clear(); err != nil {
		return nil, err
	}
	r.log.Sugar().Infow("Subscriber unsubscribed", "subscriber_id", sub.ID)
	return &sub, nil
}
