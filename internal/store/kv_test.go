package store

import (
	"context"
	"testing"
)

func TestKV_GetMissing(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.Get(context.Background(), "cashierSession")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("expected missing key to report found=false")
	}
}

func TestKV_SetReplacesWholeValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "cashierUiState:acme", []byte(`{"carts":[1,2]}`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "cashierUiState:acme", []byte(`{"carts":[]}`)); err != nil {
		t.Fatalf("second Set() failed: %v", err)
	}

	got, found, err := s.Get(ctx, "cashierUiState:acme")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if string(got) != `{"carts":[]}` {
		t.Errorf("Get() = %s, want the last written value", got)
	}
}

func TestKV_KeysAreIndependent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "cashierUiState:a", []byte("A")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "cashierUiState:b", []byte("B")); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.Get(ctx, "cashierUiState:a")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "A" {
		t.Errorf("company a value = %q, want %q", got, "A")
	}
}

func TestKV_Delete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("key still present after Delete()")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() of missing key should not error: %v", err)
	}
}

func TestKV_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/reopen.db"
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Set(ctx, "cashierSession", []byte(`{"cashierId":"c1"}`)); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, found, err := s2.Get(ctx, "cashierSession")
	if err != nil || !found {
		t.Fatalf("Get() after reopen = found %v, err %v", found, err)
	}
	if string(got) != `{"cashierId":"c1"}` {
		t.Errorf("Get() after reopen = %s", got)
	}
}
