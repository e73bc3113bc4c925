package possync

import "testing"

func TestDecodeModules(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want SyncModules
	}{
		{"empty defaults", "", SyncModules{Payments: true, Refunds: false}},
		{"garbage defaults", "{not json", SyncModules{Payments: true, Refunds: false}},
		{"stored settings", `{"payments":true,"refunds":true}`, SyncModules{Payments: true, Refunds: true}},
		{"payments cannot be disabled", `{"payments":false,"refunds":true}`, SyncModules{Payments: true, Refunds: true}},
	}
	for _, tc := range cases {
		if got := DecodeModules([]byte(tc.raw)); got != tc.want {
			t.Fatalf("%s: DecodeModules = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestEncodeModules_RoundTrip(t *testing.T) {
	encoded := EncodeModules(SyncModules{Refunds: true})
	got := DecodeModules(encoded)
	if !got.Payments || !got.Refunds {
		t.Fatalf("round trip = %+v, want payments and refunds on", got)
	}
}

func TestDecodeCursorState(t *testing.T) {
	if state := DecodeCursorState(nil); state != (CursorState{}) {
		t.Fatalf("empty raw must decode to a zero state, got %+v", state)
	}
	if state := DecodeCursorState([]byte("oops")); state != (CursorState{}) {
		t.Fatalf("garbage must decode to a zero state, got %+v", state)
	}

	state := CursorState{
		Payments: CursorEntry{UpdatedSince: "2026-02-03T15:00:00Z", Cursor: "page-4"},
	}
	got := DecodeCursorState(EncodeCursorState(state))
	if got != state {
		t.Fatalf("round trip = %+v, want %+v", got, state)
	}
	if got.Refunds != (CursorEntry{}) {
		t.Fatalf("untouched feed must stay zero, got %+v", got.Refunds)
	}
}

func TestIsEmptyModules(t *testing.T) {
	if !isEmptyModules(SyncModules{}) {
		t.Fatal("zero value is empty")
	}
	if isEmptyModules(SyncModules{Payments: true}) {
		t.Fatal("payments on is not empty")
	}
	if isEmptyModules(SyncModules{Refunds: true}) {
		t.Fatal("refunds on is not empty")
	}
}
