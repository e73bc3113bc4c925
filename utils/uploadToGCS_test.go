package utils_test

import (
	"context"
	"strings"
	"testing"

	"bitbucket.org/vetmanager/caja_backend/utils"
)

// Every GCS entry point must refuse to touch the bucket API when GCS_BUCKET
// is not configured, instead of failing later with an opaque storage error.
func TestGCSOperationsRequireBucket(t *testing.T) {
	t.Setenv("GCS_BUCKET", "")
	ctx := context.Background()

	if err := utils.SaveImageToGCS(ctx, "slips/1.jpg", "aGVsbG8="); err == nil || !strings.Contains(err.Error(), "GCS_BUCKET") {
		t.Fatalf("SaveImageToGCS without bucket: %v", err)
	}
	if err := utils.UploadBytesToGCS(ctx, "slips/1.jpg", []byte("x"), "image/jpeg"); err == nil || !strings.Contains(err.Error(), "GCS_BUCKET") {
		t.Fatalf("UploadBytesToGCS without bucket: %v", err)
	}
	if err := utils.DeleteImageFromGCS(ctx, "slips/1.jpg"); err == nil || !strings.Contains(err.Error(), "GCS_BUCKET") {
		t.Fatalf("DeleteImageFromGCS without bucket: %v", err)
	}
	if _, err := utils.ObjectExistsInGCS(ctx, "slips/1.jpg"); err == nil || !strings.Contains(err.Error(), "GCS_BUCKET") {
		t.Fatalf("ObjectExistsInGCS without bucket: %v", err)
	}
}
