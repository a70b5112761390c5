// Package registry reconciles the remote model catalog against the engine's
// local image list. It holds no state: Reconcile is a pure function of its
// inputs and is cheap enough to recompute on every client refresh.
package registry

import (
	"strings"

	"github.com/MHubAI/SlicerMHubRunner/internal/catalog"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Reconcile reports the local image status for every model in snap.
// Local images are keyed by reference and are the ground truth for
// presence; a digest declared by the catalog that differs from the local
// digest marks the image stale.
func Reconcile(snap *catalog.Snapshot, local []types.LocalImage) []types.ModelWithStatus {
	if snap == nil {
		return nil
	}
	byRef := make(map[string]types.LocalImage, len(local))
	for _, img := range local {
		byRef[img.Ref] = img
	}
	out := make([]types.ModelWithStatus, 0, len(snap.Models))
	for _, m := range snap.Models {
		out = append(out, types.ModelWithStatus{Model: m, Status: statusOf(m, byRef)})
	}
	return out
}

// StatusOf reports the local status of a single model.
func StatusOf(m types.Model, local []types.LocalImage) types.ImageStatus {
	byRef := make(map[string]types.LocalImage, len(local))
	for _, img := range local {
		byRef[img.Ref] = img
	}
	return statusOf(m, byRef)
}

func statusOf(m types.Model, byRef map[string]types.LocalImage) types.ImageStatus {
	img, ok := byRef[m.Image]
	if !ok {
		return types.ImageNotPresent
	}
	// Without digest information on either side the tag match has to count
	// as current.
	if img.Digest == "" {
		return types.ImagePresentUpToDate
	}
	if d := catalogDigest(m); d != "" && d != img.Digest {
		return types.ImagePresentStale
	}
	return types.ImagePresentUpToDate
}

// catalogDigest extracts a digest pin from the model's image reference
// ("repo@sha256:..." form). The public index publishes plain tags today, so
// this usually returns empty.
func catalogDigest(m types.Model) string {
	if i := strings.Index(m.Image, "@"); i >= 0 {
		return m.Image[i+1:]
	}
	return ""
}
