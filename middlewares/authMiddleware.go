package middlewares

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// retrieve user from redis or db
func getSessionUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}

	if !exists {

		db := config.GetDB()
		if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Take(&user).Error; err != nil {
			return nil, err
		}

		token_lifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
		if err != nil {
			return nil, err
		}

		if err := config.SetRedisObject("User:"+user.Username, &user, time.Duration(token_lifespan)*time.Hour); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func abortUnauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	c.Abort()
}

// RequireUser resolves the session username to a staff user and puts the
// tenant and actor identity in the request context. Everything behind it can
// rely on ClinicId/UserId/UserName being present.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok || username == "" {
			abortUnauthorized(c)
			return
		}

		user, err := getSessionUser(ctx, username)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// destroy current session if user has been deleted
				models.Logout(ctx)
			}
			abortUnauthorized(c)
			return
		}
		if !*user.IsActive {
			abortUnauthorized(c)
			return
		}

		ctx = context.WithValue(ctx, utils.ContextKeyClinicId, user.ClinicId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, user.ID)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, user.Name)
		ctx = utils.SetIsAdminInContext(ctx, user.Role == models.UserRoleAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin gates platform-operator routes (clinic CRUD, outbox replay).
// Must run behind RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok || username == "" {
			abortUnauthorized(c)
			return
		}
		user, err := getSessionUser(ctx, username)
		if err != nil || user.Role != models.UserRoleAdmin {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}

// RequireManager gates clinic-administrative routes (drawer reconcile).
// Managers act within their clinic; platform admins pass too.
func RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok || username == "" {
			abortUnauthorized(c)
			return
		}
		user, err := getSessionUser(ctx, username)
		if err != nil || (user.Role != models.UserRoleManager && user.Role != models.UserRoleAdmin) {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}
