package delivery

import (
	"context"
	"fmt"
	"time"

	"Fanvault/core/ladder"
	"Fanvault/core/player"
)

// RenditionSource serves one asset's renditions to a playback session. Every
// URL goes through the guard and the URL cache like any other request.
type RenditionSource struct {
	Service     *Service
	PrincipalID string
	AssetID     string
	// ExpiresIn is the lifetime asked for each URL; zero picks the default.
	ExpiresIn time.Duration
}

// RenditionURL implements player.URLSource.
func (r RenditionSource) RenditionURL(ctx context.Context, label string) (string, error) {
	resp, err := r.Service.URL(ctx, r.PrincipalID, r.AssetID, label, r.ExpiresIn)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Ladder lists the asset's playable renditions, lowest first.
func (r RenditionSource) Ladder(ctx context.Context) ([]player.Rendition, error) {
	asset, _, err := r.Service.authorizedAsset(ctx, r.PrincipalID, r.AssetID)
	if err != nil {
		return nil, err
	}
	if asset.Manifest == nil {
		return nil, fmt.Errorf("%w: %s has no renditions", ErrRenditionNotFound, r.AssetID)
	}

	ok := asset.Manifest.Successful()
	if len(ok) == 0 {
		return nil, fmt.Errorf("%w: %s has no renditions", ErrRenditionNotFound, r.AssetID)
	}
	out := make([]player.Rendition, 0, len(ok))
	for _, res := range ok {
		kbps := res.BitrateKbps
		if kbps <= 0 {
			if rung, found := ladder.Lookup(res.Label); found {
				kbps = rung.BitrateKbps
			}
		}
		out = append(out, player.Rendition{Label: res.Label, Height: res.Height, BitrateKbps: kbps})
	}
	return out, nil
}
