// Package push implements the outbound side of presslocal: sending
// locally dirty records back to the remote authority.
//
// Pushes go one record at a time through the regular update endpoint,
// never the batch endpoint: batch writes were observed to silently drop
// taxonomy assignments on some deployments. A failed push leaves the
// dirty flag set, so nothing is lost and the caller can retry.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/presslocal/presslocal/internal/config"
	"github.com/presslocal/presslocal/internal/hooks"
	"github.com/presslocal/presslocal/internal/remote"
	"github.com/presslocal/presslocal/internal/store"
)

// ErrConflict gates PushResource: the remote record changed since the
// last sync and skipConflictCheck was not set.
var ErrConflict = errors.New("remote record changed since last sync")

// interRequestDelay spaces sequential pushes so a large push-all does not
// hammer the remote.
const interRequestDelay = 250 * time.Millisecond

// RemoteAPI is the slice of the remote client the push engine uses.
// *remote.Client satisfies it; tests substitute fakes.
type RemoteAPI interface {
	GetResource(ctx context.Context, restBase string, id int64) (*remote.Resource, error)
	UpdateResource(ctx context.Context, restBase string, id int64, payload map[string]any) (*remote.Resource, error)
	SearchMedia(ctx context.Context, search string) ([]*remote.Media, error)
	UpdateSEOTitleDescription(ctx context.Context, restBase string, id int64, title, description string) (bool, error)
	UpdateSEOKeywords(ctx context.Context, restBase string, id int64, keywords []string) (bool, error)
	UpdateSEOSocial(ctx context.Context, restBase string, id int64, fields map[string]string) (bool, error)
	UpdateSEORobots(ctx context.Context, restBase string, id int64, directives map[string]bool) (bool, error)
}

// Engine pushes local edits to the remote site.
type Engine struct {
	db     *store.DB
	api    RemoteAPI
	cfg    *config.Config
	logger *log.Logger

	// PrePush transforms run on every outbound payload before sending.
	PrePush hooks.Pipeline[map[string]any]

	// delay between sequential pushes; overridable in tests.
	delay time.Duration
}

// New creates a push engine. If logger is nil, a default logger writing
// to stderr is used.
func New(db *store.DB, api RemoteAPI, cfg *config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[push] ", log.LstdFlags)
	}
	return &Engine{db: db, api: api, cfg: cfg, logger: logger, delay: interRequestDelay}
}

// PushResource pushes one record.
//
// Unless skipConflictCheck is set, the push requires zero conflicts and
// fails with ErrConflict before any write attempt. On success the record
// is marked clean, its remote-modified timestamp refreshed from the
// response, the edited-taxonomies marker cleared, and field-level changes
// appended to the change log. Side-channel data is pushed best-effort:
// its failure is logged but does not fail the push.
func (e *Engine) PushResource(ctx context.Context, id int64, skipConflictCheck bool) error {
	if !skipConflictCheck {
		conflicts, err := e.CheckForConflicts(ctx, []int64{id})
		if err != nil {
			return fmt.Errorf("conflict check failed: %w", err)
		}
		if len(conflicts) > 0 {
			return fmt.Errorf("%w: %s", ErrConflict, conflicts[0])
		}
	}

	r, err := e.db.GetResource(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load resource %d: %w", id, err)
	}
	ct := e.cfg.ContentTypeByName(r.Type)
	if ct == nil {
		return fmt.Errorf("resource %d has unknown content type %q", id, r.Type)
	}

	payload, err := e.BuildUpdatePayload(ctx, id)
	if err != nil {
		return err
	}
	payload, err = e.PrePush.Apply(payload)
	if err != nil {
		return err
	}

	updated, err := e.api.UpdateResource(ctx, ct.RestBase, id, payload)
	if err != nil {
		return fmt.Errorf("failed to push resource %d: %w", id, err)
	}

	e.pushSideData(ctx, ct.RestBase, r)
	e.logChanges(ctx, r)

	if err := e.db.MarkClean(ctx, id, updated.Modified()); err != nil {
		return err
	}

	e.logger.Printf("Pushed %s %d (%s)", r.Type, id, r.Title)
	return nil
}

// pushSideData best-effort pushes the record's side-channel values through
// whichever write endpoints the deployment supports.
func (e *Engine) pushSideData(ctx context.Context, restBase string, r *store.Resource) {
	if e.cfg.SEOPlugin == "" {
		return
	}
	data, err := e.db.GetPluginData(ctx, r.ID, e.cfg.SEOPlugin)
	if err != nil {
		e.logger.Printf("WARNING: failed to load side data for %d: %v", r.ID, err)
		return
	}
	if len(data) == 0 {
		return
	}

	title := decodeString(data["title"])
	description := decodeString(data["description"])
	if title != "" || description != "" {
		if supported, err := e.api.UpdateSEOTitleDescription(ctx, restBase, r.ID, title, description); err != nil {
			e.logger.Printf("WARNING: SEO meta push for %d failed: %v", r.ID, err)
		} else if !supported {
			e.logger.Printf("SEO meta endpoint not available; skipped for %d", r.ID)
		}
	}

	if raw, ok := data["keywords"]; ok {
		var keywords []string
		if err := json.Unmarshal([]byte(raw), &keywords); err == nil && len(keywords) > 0 {
			if _, err := e.api.UpdateSEOKeywords(ctx, restBase, r.ID, keywords); err != nil {
				e.logger.Printf("WARNING: SEO keywords push for %d failed: %v", r.ID, err)
			}
		}
	}

	if raw, ok := data["social"]; ok {
		var social map[string]string
		if err := json.Unmarshal([]byte(raw), &social); err == nil && len(social) > 0 {
			if _, err := e.api.UpdateSEOSocial(ctx, restBase, r.ID, social); err != nil {
				e.logger.Printf("WARNING: SEO social push for %d failed: %v", r.ID, err)
			}
		}
	}

	if raw, ok := data["robots"]; ok {
		var robots map[string]bool
		if err := json.Unmarshal([]byte(raw), &robots); err == nil && len(robots) > 0 {
			if _, err := e.api.UpdateSEORobots(ctx, restBase, r.ID, robots); err != nil {
				e.logger.Printf("WARNING: SEO robots push for %d failed: %v", r.ID, err)
			}
		}
	}
}

// decodeString tolerates both JSON-encoded and raw string storage.
func decodeString(raw string) string {
	if raw == "" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return raw
}

// logChanges appends before/after entries for core fields that differ from
// the synced snapshot.
func (e *Engine) logChanges(ctx context.Context, r *store.Resource) {
	if r.Snapshot == nil {
		return
	}
	now := time.Now()
	for _, ch := range []struct{ field, old, new string }{
		{"title", r.Snapshot.Title, r.Title},
		{"slug", r.Snapshot.Slug, r.Slug},
		{"status", r.Snapshot.Status, r.Status},
	} {
		if ch.old == ch.new {
			continue
		}
		if err := e.db.AppendChange(ctx, &store.ChangeEntry{
			ResourceID: r.ID,
			FieldID:    ch.field,
			OldValue:   ch.old,
			NewValue:   ch.new,
			ChangedAt:  now,
		}); err != nil {
			e.logger.Printf("WARNING: failed to log change for %d: %v", r.ID, err)
		}
	}
}

// Result is the outcome of one record in a PushAllDirty run.
type Result struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	// Err is the error text for a failed push, empty on success. The
	// record stays dirty on failure so the caller can retry.
	Err string `json:"error,omitempty"`
}

// Report is the outcome of a PushAllDirty run.
type Report struct {
	Results []Result `json:"results"`
	// Conflicts is informational: detected divergences that were logged
	// but did not block the run.
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// PushAllDirty pushes every dirty record, optionally filtered by content
// type.
//
// When conflict checking is enabled, conflicts are logged as warnings but
// never block: this is a single-operator tool, and a stale timestamp left
// by an earlier partial push must not wedge retries. Records are pushed
// one at a time with a fixed delay between requests.
func (e *Engine) PushAllDirty(ctx context.Context, skipConflictCheck bool, contentType string) (*Report, error) {
	dirty, err := e.db.ListDirty(ctx, contentType)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	if len(dirty) == 0 {
		return report, nil
	}

	if !skipConflictCheck {
		ids := make([]int64, len(dirty))
		for i, r := range dirty {
			ids[i] = r.ID
		}
		conflicts, err := e.CheckForConflicts(ctx, ids)
		if err != nil {
			e.logger.Printf("WARNING: conflict check failed, proceeding anyway: %v", err)
		} else {
			report.Conflicts = conflicts
			for _, c := range conflicts {
				e.logger.Printf("WARNING: pushing over conflict: %s", c)
			}
		}
	}

	for i, r := range dirty {
		if i > 0 && e.delay > 0 {
			time.Sleep(e.delay)
		}
		result := Result{ID: r.ID, Title: r.Title}
		if err := e.PushResource(ctx, r.ID, true); err != nil {
			result.Err = err.Error()
			e.logger.Printf("WARNING: push of %d failed: %v", r.ID, err)
		}
		report.Results = append(report.Results, result)
	}

	return report, nil
}
