package engine

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"

	identitydomain "authcore/internal/identity/domain"
)

const accountQuery = "data.authcore.account"

// defaultRegoPolicy denies deleted, banned, inactive and suspended accounts.
//
//go:embed account.rego
var defaultRegoPolicy string

// OPAEvaluator evaluates the account-usability policy with OPA Rego. The query is prepared
// once; Evaluate is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (package authcore.account). An empty policy selects the
// embedded default.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	pq, err := rego.New(
		rego.Query(accountQuery),
		rego.Module("account.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile account policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// LoadPolicyFile returns the Rego source at path, or "" when path is empty.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read account policy: %w", err)
	}
	return string(b), nil
}

// Evaluate runs the policy for ident and action. Missing or malformed results deny.
func (e *OPAEvaluator) Evaluate(ctx context.Context, ident *identitydomain.Identity, action string) (Decision, error) {
	if ident == nil {
		return Decision{Reasons: []string{"missing"}}, nil
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(ident, action)))
	if err != nil {
		return Decision{}, fmt.Errorf("eval account policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{Reasons: []string{"undefined"}}, nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Reasons: []string{"undefined"}}, nil
	}
	var d Decision
	d.Allow, _ = doc["allow"].(bool)
	if raw, ok := doc["deny"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
		sort.Strings(d.Reasons)
	}
	return d, nil
}

// HealthCheck verifies that the prepared policy evaluates for an active account.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.Evaluate(ctx, &identitydomain.Identity{ID: "healthcheck", Active: true}, ActionLogin)
	if err != nil {
		return err
	}
	if !d.Allow {
		return fmt.Errorf("account policy denies an active account: %v", d.Reasons)
	}
	return nil
}

func buildInput(ident *identitydomain.Identity, action string) map[string]interface{} {
	return map[string]interface{}{
		"action": action,
		"account": map[string]interface{}{
			"id":                 ident.ID,
			"active":             ident.Active,
			"banned":             ident.Banned,
			"suspended":          ident.Suspended,
			"deleted":            ident.Deleted,
			"two_factor_enabled": ident.TwoFactorEnabled,
		},
	}
}
