package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestSetRoleAdvances(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	bundle := loginByMagicLink(t, engine, mailer, "upgrade@example.com")

	user, err := engine.SetRole(ctx, bundle.UserID, RolePaid, "billing")
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if user.Role != RolePaid {
		t.Fatalf("role = %s, want paid", user.Role)
	}
	if user.RoleAssignedBy != "billing" {
		t.Fatalf("roleAssignedBy = %q, want billing", user.RoleAssignedBy)
	}
}

func TestSetRoleRejectsRegression(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	bundle := loginByMagicLink(t, engine, mailer, "downgrade@example.com")

	if _, err := engine.SetRole(ctx, bundle.UserID, RolePaid, "billing"); err != nil {
		t.Fatalf("SetRole paid: %v", err)
	}
	if _, err := engine.SetRole(ctx, bundle.UserID, RoleFree, "billing"); !errors.Is(err, ErrRoleRegression) {
		t.Fatalf("regression = %v, want ErrRoleRegression", err)
	}

	user, err := engine.GetUser(ctx, bundle.UserID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Role != RolePaid {
		t.Fatalf("role after rejected regression = %s, want paid", user.Role)
	}
}

func TestSetRoleSameRoleKeepsStamp(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	bundle := loginByMagicLink(t, engine, mailer, "stamp@example.com")

	first, err := engine.SetRole(ctx, bundle.UserID, RolePaid, "billing")
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	again, err := engine.SetRole(ctx, bundle.UserID, RolePaid, "support")
	if err != nil {
		t.Fatalf("repeated SetRole: %v", err)
	}
	if again.RoleAssignedBy != first.RoleAssignedBy {
		t.Fatalf("no-op SetRole moved the audit stamp: %q -> %q", first.RoleAssignedBy, again.RoleAssignedBy)
	}
}

func TestSetRoleUnknownUser(t *testing.T) {
	engine, _, _ := newEngine(t)

	if _, err := engine.SetRole(context.Background(), "no-such-user", RolePaid, "billing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("SetRole unknown user = %v, want ErrUserNotFound", err)
	}
}

func TestRoleTokenLagsUntilRefresh(t *testing.T) {
	engine, mailer, _ := newEngine(t)
	ctx := context.Background()

	bundle := loginByMagicLink(t, engine, mailer, "lag@example.com")

	if _, err := engine.SetRole(ctx, bundle.UserID, RolePaid, "billing"); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	// The outstanding access token still carries the old role claim.
	authCtx, err := engine.Validate(ctx, bundle.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if authCtx.Role != RoleFree {
		t.Fatalf("pre-refresh role = %s, want free", authCtx.Role)
	}

	// Refresh re-reads the record and mints the new role.
	next, err := engine.Refresh(ctx, bundle.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.Role != RolePaid {
		t.Fatalf("post-refresh role = %s, want paid", next.Role)
	}
}

func TestRoleOrdering(t *testing.T) {
	order := []Role{RoleAnonymous, RoleFree, RolePaid, RoleOperator}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("role ordering broken at %s >= %s", order[i-1], order[i])
		}
	}

	for _, tc := range []struct {
		in   string
		want Role
		ok   bool
	}{
		{"anonymous", RoleAnonymous, true},
		{"free", RoleFree, true},
		{"paid", RolePaid, true},
		{"operator", RoleOperator, true},
		{"", RoleAnonymous, true},
		{"admin", 0, false},
	} {
		got, err := ParseRole(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseRole(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseRole(%q) accepted an unknown role", tc.in)
		}
	}
}
