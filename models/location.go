package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"gorm.io/gorm"
)

type Location struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ClinicId  string    `gorm:"index;not null" json:"clinic_id"`
	Name      string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLocation struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewLocation) validate(ctx context.Context, clinicId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Location](ctx, clinicId, id); err != nil {
			return err
		}
	}
	// name
	if err := utils.ValidateUnique[Location](ctx, clinicId, "name", input.Name, id); err != nil {
		return NewValidationError("name", err.Error())
	}
	// phone
	if len(strings.TrimSpace(input.Phone)) > 0 {
		if err := utils.ValidateUnique[Location](ctx, clinicId, "phone", input.Phone, id); err != nil {
			return NewValidationError("phone", err.Error())
		}
	}
	return nil
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	if err := input.validate(ctx, clinicId, 0); err != nil {
		return nil, err
	}

	location := Location{
		ClinicId: clinicId,
		Name:     input.Name,
		Phone:    input.Phone,
		Address:  input.Address,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&location).Error
	if err != nil {
		return nil, err
	}

	return &location, nil
}

// CreateDefaultLocation runs inside the clinic-registration transaction.
func CreateDefaultLocation(tx *gorm.DB, ctx context.Context, clinicId string) (*Location, error) {
	location := Location{
		ClinicId: clinicId,
		Name:     "Front Desk",
		IsActive: utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func UpdateLocation(ctx context.Context, id int, input *NewLocation) (*Location, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	if err := input.validate(ctx, clinicId, id); err != nil {
		return nil, err
	}

	location, err := utils.FetchModel[Location](ctx, clinicId, id)
	if err != nil {
		return nil, NewNotFoundError("location")
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&location).Updates(map[string]interface{}{
		"Name":    input.Name,
		"Phone":   input.Phone,
		"Address": input.Address,
	}).Error
	if err != nil {
		return nil, err
	}

	return location, nil
}

func DeleteLocation(ctx context.Context, id int) (*Location, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	result, err := utils.FetchModel[Location](ctx, clinicId, id)
	if err != nil {
		return nil, NewNotFoundError("location")
	}

	// check if the location is used
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&Clinic{}).
		Where("id = ? AND primary_location_id = ?", clinicId, id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, NewStateError("location", "cannot delete primary location")
	}
	if err := db.WithContext(ctx).Model(&CashDrawer{}).
		Where("location_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, NewStateError("location", "location has cash drawers")
	}

	// db action
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func GetLocation(ctx context.Context, id int) (*Location, error) {

	return GetResource[Location](ctx, id)
}

func GetLocations(ctx context.Context, name *string) ([]*Location, error) {
	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	db := config.GetDB()
	var results []*Location

	dbCtx := db.WithContext(ctx).Where("clinic_id = ?", clinicId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveLocation(ctx context.Context, id int, isActive bool) (*Location, error) {
	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	if !isActive {
		db := config.GetDB()
		var count int64
		if err := db.WithContext(ctx).Model(&Clinic{}).
			Where("id = ? AND primary_location_id = ?", clinicId, id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, NewStateError("location", "cannot toggle primary location inactive")
		}
	}
	return ToggleActiveModel[Location](ctx, clinicId, id, isActive)
}
