package hierarchy

import (
	"context"
	"fmt"
)

// ParentResolver answers the two parent lookups the traversal needs. The ok
// result is false when the row does not exist; that is not an error.
type ParentResolver interface {
	ProjectForFeature(ctx context.Context, featureID int64) (projectID int64, ok bool, err error)
	WorkspaceForProject(ctx context.Context, projectID int64) (workspaceID int64, ok bool, err error)
}

// Builder produces the ordered ancestor chain for a resource. The traversal
// itself is a fixed, hand-coded graph; only the feature->project and
// project->workspace edges need I/O, delegated to the injected resolver.
type Builder struct {
	parents ParentResolver
}

// NewBuilder constructs a Builder.
func NewBuilder(parents ParentResolver) *Builder {
	return &Builder{parents: parents}
}

// Build returns the ancestor chain for (resourceType, resourceID), most
// specific node first, always terminating at root. The order is a contract:
// grant queries report matches in this precedence. A missing intermediate row
// (a feature whose project is gone) stops the chain from extending past that
// point rather than failing.
func (b *Builder) Build(ctx context.Context, resourceType ResourceType, resourceID *int64) ([]Node, error) {
	if !resourceType.Valid() {
		return nil, fmt.Errorf("hierarchy: unknown resource type %q", resourceType)
	}

	switch resourceType {
	case TypeRoot:
		return []Node{{Type: TypeRoot}}, nil

	case TypeSystem, TypeDashboard, TypeProfile:
		return []Node{{Type: resourceType, ID: resourceID}, {Type: TypeRoot}}, nil

	case TypeAdmin:
		return []Node{{Type: TypeAdmin, ID: resourceID}, {Type: TypeSystem}, {Type: TypeRoot}}, nil

	case TypeWorkspace:
		nodes := []Node{{Type: TypeWorkspace, ID: resourceID}}
		if resourceID != nil {
			nodes = append(nodes, Node{Type: TypeWorkspace})
		}
		return append(nodes, Node{Type: TypeRoot}), nil

	case TypeProject:
		nodes := []Node{{Type: TypeProject, ID: resourceID}}
		if resourceID != nil {
			nodes = append(nodes, Node{Type: TypeProject})
			more, err := b.workspaceNodes(ctx, *resourceID)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, more...)
		}
		return append(nodes, Node{Type: TypeRoot}), nil

	case TypeFeature:
		nodes := []Node{{Type: TypeFeature, ID: resourceID}}
		if resourceID != nil {
			projectID, ok, err := b.parents.ProjectForFeature(ctx, *resourceID)
			if err != nil {
				return nil, fmt.Errorf("hierarchy: feature %d parent: %w", *resourceID, err)
			}
			if ok {
				nodes = append(nodes, Node{Type: TypeProject, ID: id(projectID)}, Node{Type: TypeProject})
				more, err := b.workspaceNodes(ctx, projectID)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, more...)
			}
		}
		return append(nodes, Node{Type: TypeRoot}), nil
	}

	return nil, fmt.Errorf("hierarchy: unhandled resource type %q", resourceType)
}

func (b *Builder) workspaceNodes(ctx context.Context, projectID int64) ([]Node, error) {
	workspaceID, ok, err := b.parents.WorkspaceForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: project %d parent: %w", projectID, err)
	}
	if !ok {
		return nil, nil
	}
	return []Node{{Type: TypeWorkspace, ID: id(workspaceID)}, {Type: TypeWorkspace}}, nil
}
