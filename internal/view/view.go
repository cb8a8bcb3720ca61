// Package view computes derived views from already-fetched flat collections.
// All functions are pure: no I/O, deterministic output for identical input.
package view

import (
	"sort"

	"github.com/ddalgi-labs/snsync/internal/model"
)

// LikedSet returns the set of post ids appearing in the given like records.
func LikedSet(likes []model.Like) map[int64]struct{} {
	set := make(map[int64]struct{}, len(likes))
	for _, l := range likes {
		set[l.PostID] = struct{}{}
	}
	return set
}

// CommentCounts tallies comments by post id.
func CommentCounts(comments []model.Comment) map[int64]int {
	counts := make(map[int64]int, len(comments))
	for _, c := range comments {
		counts[c.PostID]++
	}
	return counts
}

// CommentNode is a comment with its ordered replies attached.
type CommentNode struct {
	model.Comment
	Replies []*CommentNode
}

// BuildCommentTree materializes the comment forest of a post. Roots
// (parent_id == nil) are ordered by created_at descending, replies at every
// depth by created_at ascending. Comments whose parent id does not resolve
// are treated as roots rather than dropped.
//
// The builder is defensive against malformed input: a node is attached at
// most once, so a parent-reference cycle truncates instead of looping.
func BuildCommentTree(comments []model.Comment) []*CommentNode {
	nodes := make(map[int64]*CommentNode, len(comments))
	order := make([]int64, 0, len(comments))
	for _, c := range comments {
		if _, dup := nodes[c.ID]; dup {
			continue
		}
		nodes[c.ID] = &CommentNode{Comment: c}
		order = append(order, c.ID)
	}

	// parent -> children index built once; traversal never recurses into
	// a node that is already placed.
	children := make(map[int64][]*CommentNode, len(nodes))
	var roots []*CommentNode
	placed := make(map[int64]bool, len(nodes))
	for _, id := range order {
		n := nodes[id]
		if n.ParentID == nil {
			roots = append(roots, n)
			placed[id] = true
			continue
		}
		parent, ok := nodes[*n.ParentID]
		if !ok || parent.ID == n.ID {
			// orphan or self-reference: surface it as a root
			roots = append(roots, n)
			placed[id] = true
			continue
		}
		children[parent.ID] = append(children[parent.ID], n)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreatedAt.After(roots[j].CreatedAt)
	})

	var attach func(n *CommentNode)
	attach = func(n *CommentNode) {
		kids := children[n.ID]
		sort.SliceStable(kids, func(i, j int) bool {
			return kids[i].CreatedAt.Before(kids[j].CreatedAt)
		})
		for _, k := range kids {
			if placed[k.ID] {
				continue
			}
			placed[k.ID] = true
			n.Replies = append(n.Replies, k)
			attach(k)
		}
	}
	for _, r := range roots {
		attach(r)
	}

	// nodes unreachable from any root belong to a cycle; emit them as
	// truncated roots so no comment silently disappears
	cut := make([]*CommentNode, 0)
	for _, id := range order {
		if !placed[id] {
			placed[id] = true
			cut = append(cut, nodes[id])
			attach(nodes[id])
		}
	}
	sort.SliceStable(cut, func(i, j int) bool {
		return cut[i].CreatedAt.After(cut[j].CreatedAt)
	})
	return append(roots, cut...)
}

// CountNodes returns the total number of nodes in a forest.
func CountNodes(forest []*CommentNode) int {
	total := 0
	for _, n := range forest {
		total += 1 + CountNodes(n.Replies)
	}
	return total
}
