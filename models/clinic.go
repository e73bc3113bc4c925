package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeatureCashReports gates the report suite per plan.
const FeatureCashReports = "cash_reports"

type Clinic struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Mobile      string    `gorm:"size:20" json:"mobile"`
	Website     string    `gorm:"size:255" json:"website"`
	About       string    `gorm:"type:text" json:"about"`
	Address     string    `gorm:"type:text" json:"address"`
	Country     string    `gorm:"size:100"  json:"country"`
	City        string    `gorm:"size:100"  json:"city"`
	// Timezone resolves report day boundaries for this clinic.
	Timezone string `gorm:"size:50" json:"timezone"`
	TaxId    string `gorm:"size:100" json:"tax_id"`
	// Plan fields. Features holds a JSON array of feature keys.
	MaxOpenDrawers    int    `gorm:"not null;default:1" json:"max_open_drawers"`
	Features          string `gorm:"type:text" json:"features"`
	PrimaryLocationId int    `gorm:"not null" json:"primary_location_id"`
	IsActive          *bool  `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClinic struct {
	Name           string   `json:"name" binding:"required"`
	ContactName    string   `json:"contact_name"`
	Email          string   `json:"email" binding:"required"`
	Phone          string   `json:"phone"`
	Mobile         string   `json:"mobile"`
	Website        string   `json:"website"`
	About          string   `json:"about"`
	Address        string   `json:"address"`
	Country        string   `json:"country"`
	City           string   `json:"city"`
	Timezone       string   `json:"timezone"`
	TaxId          string   `json:"tax_id"`
	MaxOpenDrawers int      `json:"max_open_drawers"`
	Features       []string `json:"features"`
}

func (clinic *Clinic) StoreRedis() error {
	return config.SetRedisObject("Clinic:"+fmt.Sprint(clinic.ID), clinic, 0)
}

func (clinic *Clinic) RemoveRedis() error {
	return config.RemoveRedisKey("Clinic:" + fmt.Sprint(clinic.ID))
}

// FeatureKeys decodes the stored JSON array; a clinic with no value has no
// optional features.
func (clinic *Clinic) FeatureKeys() []string {
	if clinic.Features == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(clinic.Features), &keys); err != nil {
		return nil
	}
	return keys
}

func (input *NewClinic) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Clinic](ctx, "", "name", input.Name, id); err != nil {
		return NewValidationError("name", err.Error())
	}
	// email
	if !utils.IsValidEmail(input.Email) {
		return NewValidationError("email", "invalid email")
	}
	if err := utils.ValidateUnique[Clinic](ctx, "", "email", input.Email, id); err != nil {
		return NewValidationError("email", err.Error())
	}
	// phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return NewValidationError("phone", "invalid phone number")
		}
		if err := utils.ValidateUnique[Clinic](ctx, "", "phone", input.Phone, id); err != nil {
			return NewValidationError("phone", err.Error())
		}
	}
	// mobile
	if input.Mobile != "" {
		if err := utils.ValidatePhoneNumber(input.Mobile, utils.CountryCode); err != nil {
			return NewValidationError("mobile", "invalid phone number")
		}
	}
	// timezone must be a loadable IANA name
	if input.Timezone != "" {
		if _, err := time.LoadLocation(input.Timezone); err != nil {
			return NewValidationError("timezone", "unknown timezone")
		}
	}
	if input.MaxOpenDrawers < 0 {
		return NewValidationError("max_open_drawers", "must not be negative")
	}
	return nil
}

// CreateClinic registers a tenant. Platform-admin only; the session middleware
// enforces that before we get here.
func CreateClinic(ctx context.Context, input *NewClinic) (*Clinic, error) {
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()

	tx := db.Begin()

	clinicId := uuid.New()
	timezone := utils.DefaultTimezone
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	maxOpenDrawers := input.MaxOpenDrawers
	if maxOpenDrawers == 0 {
		maxOpenDrawers = 1
	}

	features := ""
	if len(input.Features) > 0 {
		encoded, err := json.Marshal(input.Features)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		features = string(encoded)
	}

	clinic := Clinic{
		ID:             clinicId,
		Name:           input.Name,
		ContactName:    input.ContactName,
		Email:          input.Email,
		Phone:          utils.NormalizePhoneNumber(input.Phone, utils.CountryCode),
		Mobile:         utils.NormalizePhoneNumber(input.Mobile, utils.CountryCode),
		Website:        input.Website,
		About:          input.About,
		Address:        input.Address,
		Country:        input.Country,
		City:           input.City,
		Timezone:       timezone,
		TaxId:          input.TaxId,
		MaxOpenDrawers: maxOpenDrawers,
		Features:       features,
		IsActive:       utils.NewTrue(),
	}

	// create clinic
	err := tx.WithContext(ctx).Create(&clinic).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// create default location
	ctx = context.WithValue(ctx, utils.ContextKeyClinicId, clinicId.String())
	location, err := CreateDefaultLocation(tx, ctx, clinicId.String())
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	err = tx.WithContext(ctx).Model(&clinic).Updates(map[string]interface{}{
		"PrimaryLocationId": location.ID,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}

	// caching
	if err := utils.ClearRedisAdmin[Clinic](); err != nil {
		return nil, err
	}

	return &clinic, nil
}

func UpdateClinic(ctx context.Context, input *NewClinic) (*Clinic, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	if err := input.validate(ctx, clinicId); err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	tx := db.Begin()
	var clinic Clinic
	if err := db.WithContext(ctx).Where("id = ?", clinicId).First(&clinic).Error; err != nil {
		return nil, NewNotFoundError("clinic")
	}

	updates := map[string]interface{}{
		"Name":        input.Name,
		"ContactName": input.ContactName,
		"Email":       input.Email,
		"Phone":       utils.NormalizePhoneNumber(input.Phone, utils.CountryCode),
		"Mobile":      utils.NormalizePhoneNumber(input.Mobile, utils.CountryCode),
		"Website":     input.Website,
		"About":       input.About,
		"Address":     input.Address,
		"Country":     input.Country,
		"City":        input.City,
		"TaxId":       input.TaxId,
		// Timezone is deliberately not updatable here: changing it rewrites the
		// meaning of every historical report day boundary.
	}
	if input.MaxOpenDrawers > 0 {
		updates["MaxOpenDrawers"] = input.MaxOpenDrawers
	}
	if input.Features != nil {
		encoded, err := json.Marshal(input.Features)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		updates["Features"] = string(encoded)
	}

	if err := tx.WithContext(ctx).Model(&clinic).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// caching
	if err := clinic.RemoveRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := utils.ClearRedisAdmin[Clinic](); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &clinic, tx.Commit().Error
}

func ToggleActiveClinic(ctx context.Context, id uuid.UUID, isActive bool) (*Clinic, error) {

	db := config.GetDB()
	var result Clinic

	// check exists
	err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
	if err != nil {
		return nil, NewNotFoundError("clinic")
	}

	// db action
	tx := db.Begin()
	err = tx.WithContext(ctx).Model(&result).Updates(map[string]interface{}{
		"IsActive": isActive,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// toggling related users
	err = tx.WithContext(ctx).Model(&User{}).Where("clinic_id = ?", id).Updates(map[string]interface{}{
		"IsActive": isActive,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// caching
	if err := result.RemoveRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := utils.ClearRedisAdmin[Clinic](); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &result, tx.Commit().Error
}

func GetClinicById(ctx context.Context, id string) (*Clinic, error) {

	var result Clinic

	exists, err := config.GetRedisObject("Clinic:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, NewNotFoundError("clinic")
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// GetClinicById2 is the in-transaction variant used by workflow handlers that
// already hold a tx.
func GetClinicById2(tx *gorm.DB, id string) (*Clinic, error) {

	var result Clinic

	exists, err := config.GetRedisObject("Clinic:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		// db query
		err := tx.Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, NewNotFoundError("clinic")
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func GetClinic(ctx context.Context) (*Clinic, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	return GetClinicById(ctx, clinicId)
}

func GetClinics(ctx context.Context, name *string) ([]*Clinic, error) {

	db := config.GetDB()
	var results []*Clinic

	dbCtx := db.WithContext(ctx)
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

// GetClinicTimezone resolves the timezone used for report day boundaries.
func GetClinicTimezone(ctx context.Context, clinicId string) string {
	clinic, err := GetClinicById(ctx, clinicId)
	if err != nil || clinic.Timezone == "" {
		return utils.DefaultTimezone
	}
	return clinic.Timezone
}

// CapabilityLookup answers plan questions. The production implementation reads
// the Clinic record through the Redis cache; tests substitute a fake.
type CapabilityLookup interface {
	MaxOpenDrawers(ctx context.Context, clinicId string) (int, error)
	HasFeature(ctx context.Context, clinicId string, feature string) (bool, error)
}

type clinicCapabilityLookup struct{}

func (clinicCapabilityLookup) MaxOpenDrawers(ctx context.Context, clinicId string) (int, error) {
	clinic, err := GetClinicById(ctx, clinicId)
	if err != nil {
		return 0, err
	}
	if clinic.MaxOpenDrawers <= 0 {
		return 1, nil
	}
	return clinic.MaxOpenDrawers, nil
}

func (clinicCapabilityLookup) HasFeature(ctx context.Context, clinicId string, feature string) (bool, error) {
	clinic, err := GetClinicById(ctx, clinicId)
	if err != nil {
		return false, err
	}
	for _, key := range clinic.FeatureKeys() {
		if key == feature {
			return true, nil
		}
	}
	return false, nil
}

var capability CapabilityLookup = clinicCapabilityLookup{}

// Capability returns the active lookup.
func Capability() CapabilityLookup {
	return capability
}

// SetCapabilityLookupForTest swaps the lookup and returns a restore func.
func SetCapabilityLookupForTest(l CapabilityLookup) func() {
	prev := capability
	capability = l
	return func() { capability = prev }
}
