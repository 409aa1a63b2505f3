package routing

import (
	"sort"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

// SelectCandidates retains available nodes with spare capacity that
// support every required provider type, then stable-sorts ascending by active_instances (least-loaded first, ties keep
// original order).
func SelectCandidates(nodes []domain.NodeAgentRecord, required []domain.ProviderType) []domain.NodeAgentRecord {
	out := make([]domain.NodeAgentRecord, 0, len(nodes))
	for _, n := range nodes {
		if !n.Available {
			continue
		}
		if n.MaxInstances != 0 && n.ActiveInstances >= n.MaxInstances {
			continue
		}
		if !supportsAll(n, required) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ActiveInstances < out[j].ActiveInstances
	})
	return out
}

// supportsAll reports whether node supports every provider type in
// required. A node advertising an empty capability set is universal
// (backward-compatible default).
func supportsAll(node domain.NodeAgentRecord, required []domain.ProviderType) bool {
	if len(node.Capabilities) == 0 {
		return true
	}
	seen := make(map[domain.ProviderType]struct{}, len(required))
	for _, pt := range required {
		if _, dup := seen[pt]; dup {
			continue
		}
		seen[pt] = struct{}{}
		if _, ok := node.Capabilities[pt.String()]; !ok {
			return false
		}
	}
	return true
}
