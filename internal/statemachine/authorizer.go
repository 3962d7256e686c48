package statemachine

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"venue-orders/internal/models"
)

// Authorizer decides whether a role may drive a specific edge
type Authorizer interface {
	Allowed(role models.Role, from, to models.OrderStatus) (bool, error)
}

const casbinModel = `
[request_definition]
r = role, from, to

[policy_definition]
p = role, from, to

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.role, p.role) && r.from == p.from && r.to == p.to
`

type casbinAuthorizer struct {
	enforcer casbin.IEnforcer
}

// Allowed evaluates the loaded edge policies for role
func (a *casbinAuthorizer) Allowed(role models.Role, from, to models.OrderStatus) (bool, error) {
	return a.enforcer.Enforce(string(role), string(from), string(to))
}

// NewCasbinAuthorizer loads the transition table and role groups into a casbin enforcer.
// Policies are loaded once; the enforcer is never mutated afterwards.
func NewCasbinAuthorizer() (Authorizer, error) {
	m, err := model.NewModelFromString(casbinModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}

	for group, roles := range roleGroups {
		for _, role := range roles {
			if _, err := enforcer.AddGroupingPolicy(string(role), group); err != nil {
				return nil, fmt.Errorf("failed to add role %s to group %s: %w", role, group, err)
			}
		}
	}

	for _, e := range transitionTable {
		for _, group := range e.Groups {
			if _, err := enforcer.AddPolicy(group, string(e.From), string(e.To)); err != nil {
				return nil, fmt.Errorf("failed to add policy %s->%s: %w", e.From, e.To, err)
			}
		}
	}

	return &casbinAuthorizer{enforcer: enforcer}, nil
}
