// seed-admin creates or rotates the platform admin user. Admins carry an
// empty clinic_id and operate across tenants.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Pass -with-demo-clinic to also create a demo tenant when the database has
// no clinics yet (local development).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "cajaAdmin"
	defaultAdminPassword = "C@jaAdmin"
	defaultAdminName     = "Caja Admin"
)

func main() {
	withDemoClinic := flag.Bool("with-demo-clinic", false, "Create a demo clinic when the database has none")
	flag.Parse()

	username := envOr("SEED_ADMIN_USERNAME", defaultAdminUsername)
	password := envOr("SEED_ADMIN_PASSWORD", defaultAdminPassword)
	name := envOr("SEED_ADMIN_NAME", defaultAdminName)

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, username)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	if *withDemoClinic {
		seedDemoClinic(ctx, db)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username: username,
			Name:     name,
			Password: hashedStr,
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleAdmin,
			ClinicId: "",
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=ADMIN, cross-tenant)\n", username)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Updates(map[string]any{
		"password":  hashedStr,
		"name":      name,
		"is_active": utils.NewTrue(),
		"clinic_id": "",
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	// Stale cached sessions would keep serving the old role/password.
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q (role=ADMIN, cross-tenant)\n", username)
}

func seedDemoClinic(ctx context.Context, db *gorm.DB) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Clinic{}).Count(&count).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to count clinics: %v\n", err)
		os.Exit(1)
	}
	if count > 0 {
		fmt.Println("Clinics already exist; skipping demo clinic")
		return
	}

	clinic, err := models.CreateClinic(ctx, &models.NewClinic{
		Name:           "Demo Veterinary Clinic",
		Email:          "demo@example.test",
		ContactName:    "Demo Manager",
		MaxOpenDrawers: 2,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create demo clinic: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created demo clinic: id=%s name=%q\n", clinic.ID, clinic.Name)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
