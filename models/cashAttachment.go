package models

import (
	"bytes"
	"context"
	"path"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// CashAttachment links a count-slip photo to a drawer. ObjectKey is
// provider-relative; Url is the public form, and reads swap in a signed URL
// when the bucket is private.
type CashAttachment struct {
	ID         int         `gorm:"primary_key" json:"id"`
	ClinicId   string      `gorm:"size:64;index;not null" json:"clinic_id"`
	DrawerId   int         `gorm:"index;not null" json:"drawer_id"`
	Drawer     *CashDrawer `gorm:"foreignKey:DrawerId" json:"-"`
	FileName   string      `gorm:"size:255" json:"file_name"`
	ObjectKey  string      `gorm:"size:512" json:"-"`
	Url        string      `gorm:"size:1024" json:"url"`
	UploadedBy int         `gorm:"index" json:"uploaded_by"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// count slips are phone photos; anything wider gets downscaled before upload
const attachmentMaxWidth = 1600

func downscaleAttachment(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() > attachmentMaxWidth {
		img = imaging.Resize(img, attachmentMaxWidth, 0, imaging.Lanczos)
	}
	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, img, imaging.JPEG); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// CreateCashAttachment stores a count-slip photo and links it to the drawer.
func CreateCashAttachment(ctx context.Context, drawerId int, fileName string, data []byte) (*CashAttachment, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, NewValidationError("user_id", "user id is required")
	}
	if len(data) == 0 {
		return nil, NewValidationError("file", "file is empty")
	}
	if err := utils.ValidateResourceId[CashDrawer](ctx, clinicId, drawerId); err != nil {
		return nil, NewNotFoundError("cash_drawer")
	}

	resized, err := downscaleAttachment(data)
	if err != nil {
		return nil, NewValidationError("file", "file is not a decodable image")
	}

	objectKey := path.Join(clinicId, "cash_attachments", uuid.New().String()+".jpg")
	url, err := utils.StoreObject(ctx, objectKey, resized, "image/jpeg")
	if err != nil {
		return nil, err
	}

	attachment := CashAttachment{
		ClinicId:   clinicId,
		DrawerId:   drawerId,
		FileName:   fileName,
		ObjectKey:  objectKey,
		Url:        url,
		UploadedBy: userId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&attachment).Error; err != nil {
		return nil, err
	}

	return &attachment, nil
}

func ListCashAttachments(ctx context.Context, drawerId int) ([]*CashAttachment, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}
	if err := utils.ValidateResourceId[CashDrawer](ctx, clinicId, drawerId); err != nil {
		return nil, NewNotFoundError("cash_drawer")
	}

	db := config.GetDB()
	var attachments []*CashAttachment
	if err := db.WithContext(ctx).
		Where("clinic_id = ? AND drawer_id = ?", clinicId, drawerId).
		Order("id").Find(&attachments).Error; err != nil {
		return nil, err
	}

	if utils.SignedReadsEnabled() {
		for _, attachment := range attachments {
			signed, err := utils.SignedReadURL(ctx, attachment.ObjectKey, 15*time.Minute)
			if err != nil {
				return nil, err
			}
			attachment.Url = signed
		}
	}

	return attachments, nil
}

func DeleteCashAttachment(ctx context.Context, id int) (*CashAttachment, error) {

	clinicId, ok := utils.GetClinicIdFromContext(ctx)
	if !ok || clinicId == "" {
		return nil, NewValidationError("clinic_id", "clinic id is required")
	}

	db := config.GetDB()
	var attachment CashAttachment
	if err := db.WithContext(ctx).Where("clinic_id = ?", clinicId).
		First(&attachment, id).Error; err != nil {
		return nil, NewNotFoundError("cash_attachment")
	}
	if err := db.WithContext(ctx).Delete(&attachment).Error; err != nil {
		return nil, err
	}
	if err := utils.DeleteObject(ctx, attachment.ObjectKey); err != nil {
		return nil, err
	}

	return &attachment, nil
}
