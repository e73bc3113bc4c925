package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	StorageProviderGCS      = "gcs"
	StorageProviderFirebase = "firebase"
	StorageProviderDO       = "do"
	StorageProviderLocal    = "local"
)

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

func localStorageDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("LOCAL_STORAGE_DIR"))
	if dir == "" {
		return "", errors.New("LOCAL_STORAGE_DIR is required for local storage")
	}
	return dir, nil
}

// StoreObject writes one object through the configured provider and returns
// its access URL. The local provider exists for development only.
func StoreObject(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	if GetStorageProvider() == StorageProviderLocal {
		dir, err := localStorageDir()
		if err != nil {
			return "", err
		}
		target := filepath.Join(dir, filepath.FromSlash(objectKey))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return "", err
		}
		return BuildObjectAccessURL(objectKey), nil
	}

	if err := UploadBytesToGCS(ctx, objectKey, data, contentType); err != nil {
		return "", err
	}
	return BuildObjectAccessURL(objectKey), nil
}

func DeleteObject(ctx context.Context, objectKey string) error {
	if GetStorageProvider() == StorageProviderLocal {
		dir, err := localStorageDir()
		if err != nil {
			return err
		}
		err = os.Remove(filepath.Join(dir, filepath.FromSlash(objectKey)))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return DeleteImageFromGCS(ctx, objectKey)
}
