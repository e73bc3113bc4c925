package models

import (
	"fmt"

	"gorm.io/gorm"
)

// MySQL advisory locks serialize cash postings. GET_LOCK is connection-scoped,
// so these must be called on the same *gorm.DB transaction that will do the
// posting.

// AcquireDrawerLock serializes open/record/handoff/close on a single drawer
// across instances. Different drawers proceed independently.
func AcquireDrawerLock(tx *gorm.DB, drawerId int) error {
	lockName := fmt.Sprintf("caja:drawer:%d", drawerId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire drawer lock for drawer_id=%d", drawerId)
	}
	return nil
}

func ReleaseDrawerLock(tx *gorm.DB, drawerId int) {
	lockName := fmt.Sprintf("caja:drawer:%d", drawerId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// AcquireClinicCashLock serializes drawer opening and inbound event posting per
// clinic so the plan-limit count and the insert are atomic. The at-most-one-OPEN
// invariant itself rests on the unique index, not on this lock.
func AcquireClinicCashLock(tx *gorm.DB, clinicId string) error {
	lockName := fmt.Sprintf("caja:clinic:%s", clinicId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire cash lock for clinic_id=%s", clinicId)
	}
	return nil
}

func ReleaseClinicCashLock(tx *gorm.DB, clinicId string) {
	lockName := fmt.Sprintf("caja:clinic:%s", clinicId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
