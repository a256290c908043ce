package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"authcore/internal/apperr"
	identitydomain "authcore/internal/identity/domain"
)

func newEvaluator(t *testing.T) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	if err := newEvaluator(t).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_Evaluate(t *testing.T) {
	e := newEvaluator(t)
	tests := []struct {
		name    string
		ident   identitydomain.Identity
		allow   bool
		reasons []string
	}{
		{"active", identitydomain.Identity{Active: true}, true, nil},
		{"inactive", identitydomain.Identity{Active: false}, false, []string{"inactive"}},
		{"banned", identitydomain.Identity{Active: true, Banned: true}, false, []string{"banned"}},
		{"suspended", identitydomain.Identity{Active: true, Suspended: true}, false, []string{"suspended"}},
		{"deleted", identitydomain.Identity{Active: true, Deleted: true}, false, []string{"deleted"}},
		{"several", identitydomain.Identity{Banned: true, Deleted: true}, false, []string{"banned", "deleted", "inactive"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident := tt.ident
			d, err := e.Evaluate(context.Background(), &ident, ActionLogin)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Allow != tt.allow {
				t.Errorf("Allow = %v, want %v", d.Allow, tt.allow)
			}
			if !reflect.DeepEqual(d.Reasons, tt.reasons) {
				t.Errorf("Reasons = %v, want %v", d.Reasons, tt.reasons)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	policy := `package authcore.account

default allow := false

allow if count(deny) == 0

deny contains "no_2fa" if not input.account.two_factor_enabled
`
	e, err := NewOPAEvaluator(context.Background(), policy)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	d, _ := e.Evaluate(context.Background(), &identitydomain.Identity{Active: true}, ActionLogin)
	if d.Allow {
		t.Error("custom policy should deny accounts without 2FA")
	}
	d, _ = e.Evaluate(context.Background(), &identitydomain.Identity{TwoFactorEnabled: true}, ActionLogin)
	if !d.Allow {
		t.Errorf("custom policy should allow, reasons = %v", d.Reasons)
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package authcore.account\n\nallow if {"); err == nil {
		t.Fatal("invalid Rego should fail to compile")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	if src, err := LoadPolicyFile(""); err != nil || src != "" {
		t.Errorf("empty path = %q, %v", src, err)
	}
	path := filepath.Join(t.TempDir(), "account.rego")
	if err := os.WriteFile(path, []byte(defaultRegoPolicy), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := LoadPolicyFile(path)
	if err != nil || src != defaultRegoPolicy {
		t.Errorf("LoadPolicyFile = %v", err)
	}
	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("missing file should fail")
	}
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, *identitydomain.Identity, string) (Decision, error) {
	return Decision{}, errors.New("boom")
}

func TestCheckUsable(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	if err := CheckUsable(ctx, e, &identitydomain.Identity{Active: true}, ActionRefresh); err != nil {
		t.Errorf("active: %v", err)
	}
	if err := CheckUsable(ctx, e, &identitydomain.Identity{Active: true, Banned: true}, ActionRefresh); !errors.Is(err, ErrAccountUnavailable) {
		t.Errorf("banned: %v", err)
	}
	if err := CheckUsable(ctx, e, nil, ActionRefresh); !errors.Is(err, ErrAccountUnavailable) {
		t.Errorf("nil: %v", err)
	}
	err := CheckUsable(ctx, failingEvaluator{}, &identitydomain.Identity{Active: true}, ActionRefresh)
	if apperr.KindOf(err) != apperr.KindInternal || errors.Is(err, ErrAccountUnavailable) {
		t.Errorf("eval failure: %v", err)
	}
}
