package model

// GroupRole is one row of the `group_roles` catalogue: a role offered inside
// a group. At most one role per group is the default granted on sign up.
type GroupRole struct {
	Group       string `json:"group"`
	RoleName    string `json:"roleName"`
	IsDefault   bool   `json:"isDefault"`
	Weight      int    `json:"weight"`
	Description string `json:"description,omitempty"`
}
