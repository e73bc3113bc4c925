package middlewares

import (
	"context"

	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type allLocationReader struct {
	db *gorm.DB
}

func (r *allLocationReader) getAllLocations(ctx context.Context, ids []int) []*dataloader.Result[*models.AllLocation] {
	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return handleError[*models.AllLocation](len(ids), models.NewValidationError("clinic_id", "clinic id is required"))
	}
	var results []models.AllLocation
	err := r.db.WithContext(ctx).Model(&models.Location{}).
		Where("clinic_id = ?", clinicId).
		Find(&results).Error
	if err != nil {
		return handleError[*models.AllLocation](len(ids), err)
	}

	return generateLoaderResults(results, ids)
}

func GetAllLocation(ctx context.Context, id int) (*models.AllLocation, error) {
	loaders := For(ctx)
	return loaders.allLocationLoader.Load(ctx, id)()
}

func GetAllLocations(ctx context.Context, ids []int) ([]*models.AllLocation, []error) {
	loaders := For(ctx)
	return loaders.allLocationLoader.LoadMany(ctx, ids)()
}
