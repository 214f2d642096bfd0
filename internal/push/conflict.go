package push

import (
	"context"
	"fmt"
	"time"
)

// Conflict is a divergence between the locally cached "last known remote
// modified" timestamp and the actual current remote timestamp: the remote
// record changed under us since the last sync.
type Conflict struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	LocalModified  time.Time `json:"localModified"`
	ServerModified time.Time `json:"serverModified"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("resource %d (%s): local knows %s, server has %s",
		c.ID, c.Title,
		c.LocalModified.Format(time.RFC3339),
		c.ServerModified.Format(time.RFC3339))
}

// CheckForConflicts compares each record's cached remote-modified
// timestamp against a fresh remote fetch. Equal timestamps mean no
// conflict; any mismatch produces one conflict entry.
func (e *Engine) CheckForConflicts(ctx context.Context, ids []int64) ([]Conflict, error) {
	var conflicts []Conflict
	for _, id := range ids {
		r, err := e.db.GetResource(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load resource %d: %w", id, err)
		}

		ct := e.cfg.ContentTypeByName(r.Type)
		if ct == nil {
			return nil, fmt.Errorf("resource %d has unknown content type %q", id, r.Type)
		}

		fresh, err := e.api.GetResource(ctx, ct.RestBase, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch remote state of %d: %w", id, err)
		}

		if !fresh.Modified().Equal(r.RemoteModified) {
			conflicts = append(conflicts, Conflict{
				ID:             id,
				Title:          r.Title,
				LocalModified:  r.RemoteModified,
				ServerModified: fresh.Modified(),
			})
		}
	}
	return conflicts, nil
}
