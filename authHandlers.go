package main

import (
	"net/http"

	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ---- sessions ----

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := models.Logout(c.Request.Context()); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, user)
	}
}

// ---- staff (clinic scope) ----

func listStaffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var role *models.UserRole
		if raw := c.Query("role"); raw != "" {
			r := models.UserRole(raw)
			role = &r
		}
		users, err := models.GetUsers(c.Request.Context(), role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

func createStaffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		// Staff are created inside the caller's clinic; only platform admins
		// may point at another one.
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			clinicId, _ := utils.GetClinicIdFromContext(c.Request.Context())
			input.ClinicId = clinicId
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusCreated, user)
	}
}

func getStaffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		user, err := models.GetUser(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func updateStaffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.User
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		input.ID = id
		user, err := input.UpdateUser(id)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, user)
	}
}

func deleteStaffHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.User
		user, err := input.DeleteUser(id)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, user)
	}
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

func resetStaffPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var req resetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		input := models.User{ID: id, Password: req.Password}
		user, err := input.ChangeUserPassword()
		if err != nil {
			respondError(c, err)
			return
		}
		// force re-login everywhere after a manager reset
		if err := user.DestroyAllSessions(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusOK, user)
	}
}

// ---- locations (clinic scope) ----

func listLocationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		locations, err := models.GetLocations(c.Request.Context(), queryString(c, "name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, locations)
	}
}

func createLocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewLocation
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		location, err := models.CreateLocation(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, location)
	}
}

func updateLocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var input models.NewLocation
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		location, err := models.UpdateLocation(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, location)
	}
}

func deleteLocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		location, err := models.DeleteLocation(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, location)
	}
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleLocationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		var req toggleActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		location, err := models.ToggleActiveLocation(c.Request.Context(), id, *req.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, location)
	}
}

// ---- clinics (platform admin) ----

func listClinicsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clinics, err := models.GetClinics(c.Request.Context(), queryString(c, "name"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, clinics)
	}
}

func createClinicHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewClinic
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		clinic, err := models.CreateClinic(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, clinic)
	}
}

func getClinicHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clinic, err := models.GetClinicById(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, clinic)
	}
}

func updateClinicHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewClinic
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		// UpdateClinic reads the target clinic from context; admins address it
		// by path param.
		ctx := utils.SetClinicIdInContext(c.Request.Context(), c.Param("id"))
		clinic, err := models.UpdateClinic(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, clinic)
	}
}

func toggleClinicHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, models.NewValidationError("id", "must be a uuid"))
			return
		}
		var req toggleActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("", err.Error()))
			return
		}
		clinic, err := models.ToggleActiveClinic(c.Request.Context(), id, *req.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, clinic)
	}
}
