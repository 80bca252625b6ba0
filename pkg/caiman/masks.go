package caiman

import (
	"go.uber.org/zap"

	"imagingloader/internal/models"
)

// Masks returns every plane's masks in plane order, renumbered so ids are
// unique across the load. OrigID keeps the id the mask had in its plane.
// The merge runs once; each call returns a fresh copy.
func (a *Aggregator) Masks() ([]models.Mask, error) {
	masks, err := a.masks.get(a.mergeMasks)
	if err != nil {
		return nil, err
	}
	return models.CloneMasks(masks), nil
}

func (a *Aggregator) mergeMasks() ([]models.Mask, error) {
	var all []models.Mask
	for _, p := range a.planes {
		planeMasks, err := p.Masks()
		if err != nil {
			return nil, err
		}
		good, curated, err := p.GoodComponents()
		if err != nil {
			return nil, err
		}
		accepted := make(map[int]bool, len(good))
		for _, id := range good {
			accepted[id] = true
		}

		offset := len(all)
		for _, m := range planeMasks {
			m.OrigID = m.ID
			m.ID += offset
			m.Accepted = curated && accepted[m.OrigID]
			all = append(all, m)
		}

		a.log.Debug("merged plane masks",
			zap.Int("plane", p.Index),
			zap.Int("masks", len(planeMasks)),
			zap.Int("offset", offset),
			zap.Bool("curated", curated))
	}
	return all, nil
}
