package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMagicLinkLoginScenario(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	bundle := loginByMagicLink(t, engine, mailer, "a@example.com")
	if bundle.Anonymous {
		t.Fatal("magic-link bundle must not be anonymous")
	}
	if bundle.Role != RoleFree {
		t.Fatalf("role = %s, want free", bundle.Role)
	}

	user, err := engine.GetUser(ctx, bundle.UserID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Role != RoleFree {
		t.Fatalf("stored role = %s, want free", user.Role)
	}
	if user.RoleAssignedBy != "magic-link" {
		t.Fatalf("roleAssignedBy = %q, want magic-link", user.RoleAssignedBy)
	}
	if user.Verification != VerificationVerified {
		t.Fatalf("verification = %s, want verified", user.Verification)
	}
	if user.PrimaryEmail != "a@example.com" {
		t.Fatalf("primary email = %q", user.PrimaryEmail)
	}

	authCtx, err := engine.Validate(ctx, bundle.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !authCtx.Allows(RoleFree) {
		t.Fatal("free user must satisfy RoleFree")
	}
}

func TestMagicLinkSecondLoginSameAccount(t *testing.T) {
	engine, mailer, _ := newEngine(t)

	first := loginByMagicLink(t, engine, mailer, "repeat@example.com")
	second := loginByMagicLink(t, engine, mailer, "repeat@example.com")

	if first.UserID != second.UserID {
		t.Fatalf("same email resolved to different users: %s vs %s", first.UserID, second.UserID)
	}
	if first.SessionID == second.SessionID {
		t.Fatal("each login must create its own session")
	}
}

func TestMagicLinkTokenSingleUse(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	if err := engine.RequestMagicLink(ctx, "once@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := mailer.lastToken(t)

	if _, err := engine.VerifyMagicLink(ctx, token); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := engine.VerifyMagicLink(ctx, token); !errors.Is(err, ErrMagicLinkInvalid) {
		t.Fatalf("second verify = %v, want ErrMagicLinkInvalid", err)
	}
}

func TestMagicLinkConcurrentVerifySingleWinner(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	if err := engine.RequestMagicLink(ctx, "race@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := mailer.lastToken(t)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.VerifyMagicLink(ctx, token)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrMagicLinkInvalid) {
			t.Fatalf("unexpected verify error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestMagicLinkUnknownTokenUniformError(t *testing.T) {
	engine, _, _ := newEngine(t)

	if _, err := engine.VerifyMagicLink(context.Background(), "bm90LWEtdG9rZW4"); !errors.Is(err, ErrMagicLinkInvalid) {
		t.Fatalf("unknown token = %v, want ErrMagicLinkInvalid", err)
	}
}

func TestMagicLinkExpiredToken(t *testing.T) {
	engine, mailer, mr := newEngine(t)
	ctx := context.Background()

	if err := engine.RequestMagicLink(ctx, "late@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	token := mailer.lastToken(t)

	mr.FastForward(2 * time.Hour)

	if _, err := engine.VerifyMagicLink(ctx, token); !errors.Is(err, ErrMagicLinkInvalid) {
		t.Fatalf("expired token = %v, want ErrMagicLinkInvalid", err)
	}
}

func TestMagicLinkRateLimit(t *testing.T) {
	cfg := engineTestConfig()
	cfg.MagicLink.MaxPerEmail = 3
	engine, _, _ := newEngineWithConfig(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := engine.RequestMagicLink(ctx, "busy@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := engine.RequestMagicLink(ctx, "busy@example.com"); !errors.Is(err, ErrMagicLinkRateLimited) {
		t.Fatalf("request over budget = %v, want ErrMagicLinkRateLimited", err)
	}

	// A different address still has its own budget.
	if err := engine.RequestMagicLink(ctx, "calm@example.com"); err != nil {
		t.Fatalf("unrelated address: %v", err)
	}
}

func TestMagicLinkSourceRateLimit(t *testing.T) {
	cfg := engineTestConfig()
	cfg.MagicLink.MaxPerSource = 2
	engine, _, _ := newEngineWithConfig(t, cfg)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if err := engine.RequestMagicLink(ctx, "s1@example.com"); err != nil {
		t.Fatalf("request 1: %v", err)
	}
	if err := engine.RequestMagicLink(ctx, "s2@example.com"); err != nil {
		t.Fatalf("request 2: %v", err)
	}
	if err := engine.RequestMagicLink(ctx, "s3@example.com"); !errors.Is(err, ErrMagicLinkRateLimited) {
		t.Fatalf("request over source budget = %v, want ErrMagicLinkRateLimited", err)
	}
}

func TestMagicLinkMailerFailureLeavesNoToken(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	mailer.fail = true
	if err := engine.RequestMagicLink(ctx, "dead@example.com"); !errors.Is(err, ErrMailerUnavailable) {
		t.Fatalf("send failure = %v, want ErrMailerUnavailable", err)
	}
	if len(mailer.links) != 0 {
		t.Fatal("no link should have been delivered")
	}
}

func TestMagicLinkInvalidEmail(t *testing.T) {
	engine, _, _ := newEngine(t)

	for _, email := range []string{"", "not-an-email", "two@@example.com", "spaces in@example.com"} {
		if err := engine.RequestMagicLink(context.Background(), email); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("RequestMagicLink(%q) = %v, want ErrInvalidEmail", email, err)
		}
	}
}

func TestMagicLinkDisabled(t *testing.T) {
	cfg := engineTestConfig()
	cfg.MagicLink.Enabled = false
	engine, _, _ := newEngineWithConfig(t, cfg)

	if err := engine.RequestMagicLink(context.Background(), "a@example.com"); !errors.Is(err, ErrMagicLinkDisabled) {
		t.Fatalf("request while disabled = %v, want ErrMagicLinkDisabled", err)
	}
	if _, err := engine.VerifyMagicLink(context.Background(), "token"); !errors.Is(err, ErrMagicLinkDisabled) {
		t.Fatalf("verify while disabled = %v, want ErrMagicLinkDisabled", err)
	}
}
