package auth

import "sort"

// maxTreeDepth bounds the walk; real menus are a handful of levels deep.
const maxTreeDepth = 32

// TreeNode is a permission with its children attached. Leaves carry no
// children key when encoded.
type TreeNode struct {
	Permission
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree arranges nodes into a forest below rootParentID. Siblings are
// ordered by sort order ascending, then creation time descending. Deleted
// nodes, orphans and anything reachable only through a cycle or past
// maxTreeDepth are left out.
func BuildTree(nodes []Permission, rootParentID int64) []*TreeNode {
	children := make(map[int64][]int, len(nodes))
	for i, n := range nodes {
		if n.Deleted {
			continue
		}
		children[n.ParentID] = append(children[n.ParentID], i)
	}
	for _, idx := range children {
		sort.SliceStable(idx, func(a, b int) bool {
			return siblingLess(nodes[idx[a]], nodes[idx[b]])
		})
	}

	visited := make(map[int64]struct{}, len(nodes))
	var walk func(parent int64, depth int) []*TreeNode
	walk = func(parent int64, depth int) []*TreeNode {
		if depth >= maxTreeDepth {
			return nil
		}
		var out []*TreeNode
		for _, i := range children[parent] {
			n := nodes[i]
			if _, seen := visited[n.ID]; seen {
				continue
			}
			visited[n.ID] = struct{}{}
			out = append(out, &TreeNode{Permission: n, Children: walk(n.ID, depth+1)})
		}
		return out
	}

	forest := walk(rootParentID, 0)
	if forest == nil {
		return []*TreeNode{}
	}
	return forest
}

func siblingLess(a, b Permission) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// SortPermissions orders list the way every read path does.
func SortPermissions(list []Permission) {
	sort.SliceStable(list, func(i, j int) bool { return siblingLess(list[i], list[j]) })
}
