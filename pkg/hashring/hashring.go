// Package hashring places keys on weighted nodes with consistent hashing.
package hashring

import (
	"sort"
	"strconv"

	xx "github.com/cespare/xxhash/v2"
)

// Node is a placement target. Weight scales its share of virtual nodes;
// values below 1 count as 1.
type Node struct {
	ID     string
	Weight int
}

type vnode struct {
	hash uint64
	node Node
}

type Ring struct {
	vnodes   []vnode
	replicas int
	size     int
}

func New(nodes []Node, replicas int) *Ring {
	if replicas < 1 {
		replicas = 1
	}
	r := &Ring{replicas: replicas, size: len(nodes)}
	for _, n := range nodes {
		w := n.Weight
		if w < 1 {
			w = 1
		}
		for i := 0; i < replicas*w; i++ {
			h := xx.Sum64String(n.ID + ":" + strconv.Itoa(i))
			r.vnodes = append(r.vnodes, vnode{hash: h, node: n})
		}
	}
	sort.Slice(r.vnodes, func(i, j int) bool { return r.vnodes[i].hash < r.vnodes[j].hash })
	return r
}

// Len is the number of distinct nodes on the ring.
func (r *Ring) Len() int { return r.size }

// PickN returns up to n distinct nodes for key, in preference order.
func (r *Ring) PickN(key string, n int) []Node {
	if len(r.vnodes) == 0 || n <= 0 {
		return nil
	}
	h := xx.Sum64String(key)
	i := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	res := make([]Node, 0, n)
	seen := map[string]struct{}{}
	for j := 0; len(res) < n && j < len(r.vnodes); j++ {
		vn := r.vnodes[(i+j)%len(r.vnodes)]
		if _, ok := seen[vn.node.ID]; ok {
			continue
		}
		seen[vn.node.ID] = struct{}{}
		res = append(res, vn.node)
	}
	return res
}
