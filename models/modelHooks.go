package models

import (
	"gorm.io/gorm"
)

func (l *Location) AfterCreate(tx *gorm.DB) (err error) {
	// creating history
	if err := SaveHistoryCreate(tx, l.ID, l, "Created Location"); err != nil {
		return err
	}
	// clearing cache
	if err := l.RemoveAllRedis(); err != nil {
		return err
	}

	return nil
}

func (l *Location) BeforeUpdate(tx *gorm.DB) (err error) {
	// creating history
	if err := SaveHistoryUpdate(tx, l.ID, l, "Updated Location"); err != nil {
		return err
	}
	// clearing cache
	if err := RemoveRedisBoth(*l); err != nil {
		return err
	}

	return nil
}

func (l *Location) AfterDelete(tx *gorm.DB) (err error) {
	// creating history
	if err := SaveHistoryDelete(tx, l.ID, l, "Deleted Location"); err != nil {
		return err
	}
	// clearing cache
	if err := RemoveRedisBoth(*l); err != nil {
		return err
	}

	return nil
}

func (u *User) AfterCreate(tx *gorm.DB) (err error) {
	if u.Role != UserRoleAdmin {
		return createHistory(tx, "REGISTER", u.ID, "users", nil, u, "created staff user")
	}

	// admin users are registered before any session exists, so the row is
	// written without actor attribution
	var history History
	history.ClinicId = u.ClinicId
	history.ActionType = "REGISTER"
	history.ReferenceID = u.ID
	history.ReferenceType = "users"
	history.Description = "created admin user"

	if err := tx.Create(&history).Error; err != nil {
		return err
	}

	return nil
}

func (u *User) BeforeUpdate(tx *gorm.DB) (err error) {
	// creating history
	if err := SaveHistoryUpdate(tx, u.ID, u, "Updated User"); err != nil {
		return err
	}

	return nil
}

func (u *User) AfterDelete(tx *gorm.DB) (err error) {
	// creating history
	if err := SaveHistoryDelete(tx, u.ID, u, "Deleted User"); err != nil {
		return err
	}

	return nil
}

func (c *Clinic) BeforeUpdate(tx *gorm.DB) (err error) {
	// creating history
	if err := SaveHistoryUpdate(tx, 0, c, "Updated Clinic"); err != nil {
		return err
	}

	return nil
}

// Drawer rows are written by exactly two transitions after open: close and
// reconcile. Each transition may touch only its own columns; any other update
// is limited to notes, which keeps the financial close fields frozen once
// written.
func (d *CashDrawer) BeforeUpdate(tx *gorm.DB) (err error) {
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	allowed := map[string]bool{
		"Notes":     true,
		"UpdatedAt": true,
	}
	switch drawerUpdateTarget(tx.Statement.Dest) {
	case DrawerStatusClosed:
		for _, name := range []string{"Status", "OpenMarker", "ClosedAt", "ClosedBy", "FinalAmount", "ExpectedAmount", "Difference"} {
			allowed[name] = true
		}
	case DrawerStatusReconciled:
		allowed["Status"] = true
		allowed["ReconciledAt"] = true
		allowed["ReconciledBy"] = true
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return NewStateError("cash_drawer", "field "+f.DBName+" cannot be modified")
		}
	}
	return nil
}

// drawerUpdateTarget reads the status an update is trying to write, if any.
func drawerUpdateTarget(dest interface{}) DrawerStatus {
	switch v := dest.(type) {
	case map[string]interface{}:
		if s, ok := v["status"].(DrawerStatus); ok {
			return s
		}
		if s, ok := v["status"].(string); ok {
			return DrawerStatus(s)
		}
	case *CashDrawer:
		return v.Status
	case CashDrawer:
		return v.Status
	}
	return ""
}

// Drawers with ledger entries are part of the audit trail and can never be
// removed, whatever the caller's role.
func (d *CashDrawer) BeforeDelete(tx *gorm.DB) (err error) {
	var count int64
	if err := tx.Model(&CashTransaction{}).Where("drawer_id = ?", d.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return NewStateError("cash_drawer", "drawer has ledger entries")
	}

	if err := tx.Where("drawer_id = ?", d.ID).Delete(&Shift{}).Error; err != nil {
		return err
	}

	return nil
}
