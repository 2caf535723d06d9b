package translation

import "context"

// DefaultProvider is the lowest-priority provider: a simple list-from-claim
// translation with no transforms, used when no richer ruleset is configured.
type DefaultProvider struct {
	rule *RuleSet
}

// NewDefaultProvider builds a provider that reads roles directly from the
// named claim (space-delimited, per common OIDC "scope"-style claims) and
// expands them through a static role->permission map.
func NewDefaultProvider(claim string, roleToPermissions map[string][]string) *DefaultProvider {
	return &DefaultProvider{
		rule: &RuleSet{
			VersionID: "default",
			Sources:   []Source{{Name: "roles", Claim: claim, Type: SourceSpaceDelimited}},
			Mappings: Mappings{
				RoleToPermissions: roleToPermissions,
				DirectPermissions: map[string]string{},
			},
			Defaults: Defaults{IncludeUnmapped: true},
		},
	}
}

func (p *DefaultProvider) Translate(_ context.Context, _, _ string, claims map[string]any) (Result, error) {
	return apply(p.rule, claims)
}

func (p *DefaultProvider) Priority() int { return 0 }
