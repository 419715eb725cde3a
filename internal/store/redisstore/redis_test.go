package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/keymint/keymint/internal/apikey"
	"github.com/keymint/keymint/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), Options{Addr: mr.Addr(), KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func testKey(publicID, owner, tenant string, created time.Time) *model.APIKey {
	return &model.APIKey{
		ID:         "id-" + publicID,
		PublicID:   publicID,
		SecretHash: "hash-" + publicID,
		OwnerID:    owner,
		TenantID:   tenant,
		Scopes:     []string{"api1"},
		Name:       "key " + publicID,
		CreatedAt:  created,
	}
}

func TestOpenRequiresAddr(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without address")
	}
}

func TestCreateAndGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	exp := now.Add(time.Hour)

	k := testKey("AAAAAAAAAAAAAAAA", "u1", "t1", now)
	k.ExpiresAt = &exp
	if err := s.CreateKey(ctx, k); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if !mr.Exists("test:key:AAAAAAAAAAAAAAAA") {
		t.Fatal("expected record hash under prefix")
	}

	got, err := s.GetKeyByPublicID(ctx, "AAAAAAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("GetKeyByPublicID: %v", err)
	}
	if got.OwnerID != "u1" || got.TenantID != "t1" || got.SecretHash != "hash-AAAAAAAAAAAAAAAA" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, now)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt: got %v, want %v", got.ExpiresAt, exp)
	}
	if got.RevokedAt != nil || got.LastUsedAt != nil {
		t.Error("expected nil RevokedAt and LastUsedAt")
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "api1" {
		t.Errorf("Scopes: got %v", got.Scopes)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.GetKeyByPublicID(context.Background(), "NOPE"); !errors.Is(err, apikey.ErrRecordNotFound) {
		t.Fatalf("got %v, want ErrRecordNotFound", err)
	}
}

func TestCreateConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateKey(ctx, testKey("DUPDUPDUPDUPDUPD", "u1", "t1", now)); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if err := s.CreateKey(ctx, testKey("DUPDUPDUPDUPDUPD", "u2", "t2", now)); !errors.Is(err, apikey.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	got, _ := s.GetKeyByPublicID(ctx, "DUPDUPDUPDUPDUPD")
	if got.OwnerID != "u1" {
		t.Errorf("record overwritten: owner %q", got.OwnerID)
	}
}

func TestRevoke(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateKey(ctx, testKey("REVOKEREVOKEREVO", "u1", "t1", now)); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	if err := s.RevokeKey(ctx, "REVOKEREVOKEREVO", "u2", "t1", now); !errors.Is(err, apikey.ErrRecordNotFound) {
		t.Errorf("other owner: got %v, want ErrRecordNotFound", err)
	}
	if err := s.RevokeKey(ctx, "REVOKEREVOKEREVO", "u1", "t2", now); !errors.Is(err, apikey.ErrRecordNotFound) {
		t.Errorf("other tenant: got %v, want ErrRecordNotFound", err)
	}
	if err := s.RevokeKey(ctx, "MISSINGMISSINGMI", "u1", "t1", now); !errors.Is(err, apikey.ErrRecordNotFound) {
		t.Errorf("missing key: got %v, want ErrRecordNotFound", err)
	}

	if err := s.RevokeKey(ctx, "REVOKEREVOKEREVO", "u1", "t1", now); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if err := s.RevokeKey(ctx, "REVOKEREVOKEREVO", "u1", "t1", now.Add(time.Minute)); !errors.Is(err, apikey.ErrRecordNotFound) {
		t.Errorf("second revoke: got %v, want ErrRecordNotFound", err)
	}

	got, _ := s.GetKeyByPublicID(ctx, "REVOKEREVOKEREVO")
	if got.RevokedAt == nil || !got.RevokedAt.Equal(now) {
		t.Errorf("RevokedAt: got %v, want %v", got.RevokedAt, now)
	}
}

func TestTouch(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateKey(ctx, testKey("TOUCHTOUCHTOUCHT", "u1", "t1", now)); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	used := now.Add(time.Minute)
	if err := s.TouchKey(ctx, "TOUCHTOUCHTOUCHT", used); err != nil {
		t.Fatalf("TouchKey: %v", err)
	}
	got, _ := s.GetKeyByPublicID(ctx, "TOUCHTOUCHTOUCHT")
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) {
		t.Errorf("LastUsedAt: got %v, want %v", got.LastUsedAt, used)
	}

	if err := s.TouchKey(ctx, "GHOSTGHOSTGHOSTG", used); err != nil {
		t.Fatalf("TouchKey on missing key: %v", err)
	}
	if mr.Exists("test:key:GHOSTGHOSTGHOSTG") {
		t.Error("touch must not create a record")
	}
}

func TestListKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, k := range []*model.APIKey{
		testKey("OLDOLDOLDOLDOLDO", "u1", "t1", base),
		testKey("NEWNEWNEWNEWNEWN", "u1", "t1", base.Add(time.Hour)),
		testKey("OTHERTENANTAAAAA", "u1", "t2", base.Add(2*time.Hour)),
		testKey("OTHEROWNERAAAAAA", "u2", "t1", base.Add(2*time.Hour)),
		testKey("REVOKEDREVOKEDRE", "u1", "t1", base.Add(3*time.Hour)),
	} {
		if err := s.CreateKey(ctx, k); err != nil {
			t.Fatalf("CreateKey: %v", err)
		}
	}
	if err := s.RevokeKey(ctx, "REVOKEDREVOKEDRE", "u1", "t1", base); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	got, err := s.ListKeys(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d keys, want 2", len(got))
	}
	if got[0].PublicID != "NEWNEWNEWNEWNEWN" || got[1].PublicID != "OLDOLDOLDOLDOLDO" {
		t.Errorf("order: got %s, %s", got[0].PublicID, got[1].PublicID)
	}

	empty, err := s.ListKeys(ctx, "nobody", "t1")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("got %v, want empty slice", empty)
	}
}
