package hierarchy

// ResourceType enumerates the closed set of resource kinds the authorization
// core understands. The set is part of the storage contract; new kinds require
// a migration of persisted ACL rows.
type ResourceType string

const (
	TypeRoot      ResourceType = "root"
	TypeSystem    ResourceType = "system"
	TypeDashboard ResourceType = "dashboard"
	TypeWorkspace ResourceType = "workspace"
	TypeProject   ResourceType = "project"
	TypeFeature   ResourceType = "feature"
	TypeAdmin     ResourceType = "admin"
	TypeProfile   ResourceType = "profile"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case TypeRoot, TypeSystem, TypeDashboard, TypeWorkspace, TypeProject, TypeFeature, TypeAdmin, TypeProfile:
		return true
	}
	return false
}

// Node is one step of an ancestor chain. A nil ID denotes the type-wide node
// ("all workspaces", "all projects") used for type-level inheritance. Nodes are
// built in memory to drive grant queries and are never persisted.
type Node struct {
	Type ResourceType
	ID   *int64
}

func id(v int64) *int64 { return &v }
