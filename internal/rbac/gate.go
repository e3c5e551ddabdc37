package rbac

import "github.com/iliyamo/account-service/internal/apperror"

// Gate decides whether a caller holding a set of roles may run an operation.
type Gate struct {
	Graph *Graph
}

// NewGate returns a Gate over g.
func NewGate(g *Graph) *Gate { return &Gate{Graph: g} }

// Check admits the caller when any held role can run op.
func (gt *Gate) Check(roles []string, op string) error {
	if len(roles) == 0 {
		return apperror.New(apperror.UserRoleNotFound)
	}
	for _, r := range roles {
		if gt.Graph.Can(r, op) {
			return nil
		}
	}
	return apperror.Newf(apperror.RoleRestricted, "%s", op)
}
