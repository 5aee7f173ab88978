package domain

// NodeKind discriminates files from folders. Immutable after creation.
type NodeKind string

const (
	NodeFile   NodeKind = "file"
	NodeFolder NodeKind = "folder"
)

// Node is one entry of a room's shared file tree. IDs are client-generated
// and unique within a room's snapshot. Content is meaningful only for files,
// Children only for folders.
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     NodeKind `json:"type"`
	Children []*Node  `json:"children,omitempty"`
	Content  string   `json:"content,omitempty"`
}

// InsertNode appends node under parentID, or at the forest root when parentID
// is empty. Returns the forest and whether the insert happened; an unknown or
// file-kind parent leaves the forest untouched.
func InsertNode(forest []*Node, parentID string, node *Node) ([]*Node, bool) {
	if parentID == "" {
		return append(forest, node), true
	}
	if parent := FindNode(forest, parentID); parent != nil && parent.Kind == NodeFolder {
		parent.Children = append(parent.Children, node)
		return forest, true
	}
	return forest, false
}

// DeleteNode removes the node with the given id together with all of its
// descendants. Returns the forest and whether anything was removed.
func DeleteNode(forest []*Node, id string) ([]*Node, bool) {
	out := forest[:0]
	found := false
	for _, n := range forest {
		if n.ID == id {
			found = true
			continue
		}
		if n.Children != nil {
			var ok bool
			n.Children, ok = DeleteNode(n.Children, id)
			found = found || ok
		}
		out = append(out, n)
	}
	return out, found
}

// RenameNode changes only the name of the node with the given id.
func RenameNode(forest []*Node, id, newName string) bool {
	if n := FindNode(forest, id); n != nil {
		n.Name = newName
		return true
	}
	return false
}

// SetNodeContent replaces the textual content of a file node in place.
func SetNodeContent(forest []*Node, id, content string) bool {
	n := FindNode(forest, id)
	if n == nil || n.Kind != NodeFile {
		return false
	}
	n.Content = content
	return true
}

// FindNode walks the forest depth-first and returns the node with the given
// id, or nil.
func FindNode(forest []*Node, id string) *Node {
	for _, n := range forest {
		if n.ID == id {
			return n
		}
		if found := FindNode(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// CountNodes reports the total number of nodes in the forest.
func CountNodes(forest []*Node) int {
	total := 0
	for _, n := range forest {
		total += 1 + CountNodes(n.Children)
	}
	return total
}
