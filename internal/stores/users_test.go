package stores

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestUserStore(t *testing.T) *UserStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewUserStore(rdb, "acu")
}

func TestUserCreateAndGet(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	rec := &UserRecord{
		UserID:       "user-1",
		Role:         "anonymous",
		Verification: "none",
		CreatedAt:    1700000000,
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.Role != "anonymous" {
		t.Fatalf("got = %+v", got)
	}

	if err := store.Create(ctx, rec); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate Create = %v, want ErrUserExists", err)
	}
}

func TestUserGetAbsent(t *testing.T) {
	store := newTestUserStore(t)

	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Get absent = %v, want ErrUserNotFound", err)
	}
}

func TestUserUpdate(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &UserRecord{UserID: "user-1", Role: "anonymous", Verification: "none"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := store.Update(ctx, "user-1", func(rec *UserRecord) error {
		rec.Role = "free"
		rec.RevocationID++
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Role != "free" || rec.RevocationID != 1 {
		t.Fatalf("updated rec = %+v", rec)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Role != "free" || got.RevocationID != 1 {
		t.Fatalf("persisted rec = %+v", got)
	}
}

func TestUserUpdateMutateErrorAborts(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &UserRecord{UserID: "user-1", Role: "anonymous", Verification: "none"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, "user-1", func(rec *UserRecord) error {
		rec.Role = "operator"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Update = %v, want mutate error", err)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Role != "anonymous" {
		t.Fatalf("aborted update leaked: role = %s", got.Role)
	}
}

func TestUserUpdateConcurrentIncrements(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &UserRecord{UserID: "user-1", Role: "anonymous", Verification: "none"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "user-1", func(rec *UserRecord) error {
				rec.RevocationID++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	applied := 0
	for err := range errs {
		if err == nil {
			applied++
			continue
		}
		if !errors.Is(err, ErrUserConflict) {
			t.Fatalf("unexpected update error: %v", err)
		}
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Every update that reported success is reflected exactly once.
	if got.RevocationID != uint64(applied) {
		t.Fatalf("revocation id = %d, want %d", got.RevocationID, applied)
	}
}

func TestClaimEmailFirstWins(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	owner, err := store.ClaimEmail(ctx, "a@example.com", "user-1")
	if err != nil {
		t.Fatalf("ClaimEmail: %v", err)
	}
	if owner != "user-1" {
		t.Fatalf("first claim owner = %s, want user-1", owner)
	}

	owner, err = store.ClaimEmail(ctx, "a@example.com", "user-2")
	if err != nil {
		t.Fatalf("second ClaimEmail: %v", err)
	}
	if owner != "user-1" {
		t.Fatalf("second claim owner = %s, want user-1", owner)
	}

	resolved, err := store.GetIDByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetIDByEmail: %v", err)
	}
	if resolved != "user-1" {
		t.Fatalf("resolved = %s, want user-1", resolved)
	}
}

func TestClaimSubjectConcurrentSingleOwner(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)

	owners := make(chan string, n)
	for i := 0; i < n; i++ {
		userID := "user-" + string(rune('a'+i))
		go func() {
			defer wg.Done()
			owner, err := store.ClaimProviderSubject(ctx, "github", "sub-1", userID)
			if err != nil {
				owners <- ""
				return
			}
			owners <- owner
		}()
	}
	wg.Wait()
	close(owners)

	first := ""
	for owner := range owners {
		if owner == "" {
			t.Fatal("claim failed")
		}
		if first == "" {
			first = owner
			continue
		}
		if owner != first {
			t.Fatalf("claims disagree on owner: %s vs %s", first, owner)
		}
	}
}

func TestReleaseProviderSubject(t *testing.T) {
	store := newTestUserStore(t)
	ctx := context.Background()

	if _, err := store.ClaimProviderSubject(ctx, "github", "sub-1", "user-1"); err != nil {
		t.Fatalf("ClaimProviderSubject: %v", err)
	}
	if err := store.ReleaseProviderSubject(ctx, "github", "sub-1"); err != nil {
		t.Fatalf("ReleaseProviderSubject: %v", err)
	}

	owner, err := store.GetIDBySubject(ctx, "github", "sub-1")
	if err != nil {
		t.Fatalf("GetIDBySubject: %v", err)
	}
	if owner != "" {
		t.Fatalf("released subject still owned by %s", owner)
	}
}

func TestUserRecordHelpers(t *testing.T) {
	rec := &UserRecord{
		PrimaryEmail:    "a@example.com",
		Emails:          []string{"a@example.com", "b@example.com"},
		LinkedProviders: []string{"email"},
	}

	if !rec.HasEmail("a@example.com") || !rec.HasEmail("b@example.com") {
		t.Fatal("HasEmail missed an owned address")
	}
	if rec.HasEmail("c@example.com") {
		t.Fatal("HasEmail matched an unowned address")
	}

	if rec.HasLinkedOAuthProvider() {
		t.Fatal("email-only record reported an OAuth provider")
	}
	rec.LinkedProviders = append(rec.LinkedProviders, "github")
	if !rec.HasLinkedOAuthProvider() {
		t.Fatal("github link not reported")
	}
}
