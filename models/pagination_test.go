package models_test

import (
	"encoding/base64"
	"testing"

	"bitbucket.org/vetmanager/caja_backend/models"
)

func TestCompositeCursor_RoundTrip(t *testing.T) {
	createdAt := "2026-02-03 09:00:00.123456 +0000 UTC"
	encoded := models.EncodeCompositeCursor(createdAt, 42)

	gotCreatedAt, gotId := models.DecodeCompositeCursor(&encoded)
	if gotCreatedAt != createdAt {
		t.Fatalf("decoded created_at = %q, want %q", gotCreatedAt, createdAt)
	}
	if gotId != 42 {
		t.Fatalf("decoded id = %d, want 42", gotId)
	}
}

func TestDecodeCompositeCursor_Malformed(t *testing.T) {
	junk := "not-base64!!"
	noSeparator := base64.StdEncoding.EncodeToString([]byte("2026-02-03"))
	badId := base64.StdEncoding.EncodeToString([]byte("2026-02-03|abc"))
	empty := ""

	cases := []*string{nil, &empty, &junk, &noSeparator, &badId}
	for i, cursor := range cases {
		createdAt, id := models.DecodeCompositeCursor(cursor)
		if createdAt != "" || id != 0 {
			t.Fatalf("case %d: malformed cursor decoded to (%q, %d), want zero values", i, createdAt, id)
		}
	}
}
