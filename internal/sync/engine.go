// Package sync implements the pull side of presslocal: refreshing the
// local cache from the remote authority without losing local edits.
//
// A run is a fixed state machine: taxonomies first, then each configured
// content type (fetch, media resolution, dirty-preserving persist, side
// data), then the field audit and orphan dirty-flag clearing. Phase
// errors are soft: they land in the run's error list and the pipeline
// continues, so one broken content type never blocks the rest.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/presslocal/presslocal/internal/config"
	"github.com/presslocal/presslocal/internal/hooks"
	"github.com/presslocal/presslocal/internal/remote"
	"github.com/presslocal/presslocal/internal/store"
	"github.com/presslocal/presslocal/internal/terms"
)

// RemoteAPI is the slice of the remote client the sync engine uses.
// *remote.Client satisfies it; tests substitute fakes.
type RemoteAPI interface {
	ListTerms(ctx context.Context, restBase string) ([]*remote.Term, error)
	ListResources(ctx context.Context, restBase string, opts remote.ListOptions) ([]*remote.Resource, error)
	ListResourceIDs(ctx context.Context, restBase string) ([]int64, error)
	GetMedia(ctx context.Context, id int64) (*remote.Media, error)
	GetSEO(ctx context.Context, restBase string, id int64) (map[string]json.RawMessage, error)
}

// Record is the unit flowing through the pre-persist hook pipeline: the
// resource about to be written plus its metadata and term assignments.
type Record struct {
	Resource *store.Resource
	Meta     map[string]string
	Terms    map[string][]int64
}

// Options selects what a run covers.
type Options struct {
	// Full fetches everything and runs deletion detection. When false the
	// run is incremental: resources are filtered server-side by the last
	// clean sync time and deletion detection is skipped, since a partial
	// time window cannot prove absence.
	Full bool

	// Types restricts the run to the named content types. Empty means
	// every configured type.
	Types []string
}

// Result summarizes one run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	TermsSynced      int
	ResourcesFetched map[string]int
	ResourcesUpdated map[string]int
	ResourcesDeleted map[string]int

	// Errors is the per-run soft error list. The last-sync timestamp
	// advances only when it is empty.
	Errors []string
}

func (r *Result) addError(phase string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", phase, err))
}

// Engine orchestrates sync runs. One engine per store handle; runs are
// sequential, never concurrent against the same process.
type Engine struct {
	db       *store.DB
	api      RemoteAPI
	cfg      *config.Config
	logger   *log.Logger
	progress ProgressFunc

	// PrePersist transforms run on every fetched record before it is
	// written, in priority order.
	PrePersist hooks.Pipeline[Record]
}

// New creates a sync engine. If logger is nil, a default logger writing
// to stderr is used. progress may be nil.
func New(db *store.DB, api RemoteAPI, cfg *config.Config, logger *log.Logger, progress ProgressFunc) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{db: db, api: api, cfg: cfg, logger: logger, progress: progress}
}

// Run executes one sync run and returns its result. The returned error is
// non-nil only for setup failures; phase failures are collected in
// Result.Errors.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{
		RunID:            uuid.NewString(),
		Started:          time.Now(),
		ResourcesFetched: make(map[string]int),
		ResourcesUpdated: make(map[string]int),
		ResourcesDeleted: make(map[string]int),
	}

	types := e.selectTypes(opts.Types)
	if len(types) == 0 {
		return nil, fmt.Errorf("no content types selected")
	}

	var since time.Time
	if !opts.Full {
		t, err := e.db.LastSync(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read last sync time: %w", err)
		}
		since = t
	}

	e.logger.Printf("Starting %s sync run %s (%d content types)",
		runMode(opts.Full), res.RunID, len(types))

	e.syncTaxonomies(ctx, res, taxonomyWindow(e.progress))

	// remoteFields accumulates the meta field names observed remotely per
	// type, for the field audit phase.
	remoteFields := make(map[string]map[string]bool)

	for i, ct := range types {
		e.syncContentType(ctx, ct, since, opts.Full, res, remoteFields, typeWindow(e.progress, i, len(types)))
	}

	e.fieldAudit(ctx, types, remoteFields, res)
	e.clearOrphanDirty(ctx, res)

	res.Finished = time.Now()

	if len(res.Errors) == 0 {
		if err := e.db.SetLastSync(ctx, res.Started); err != nil {
			res.addError("finalize", err)
		}
	} else {
		e.logger.Printf("Sync run %s finished with %d errors; last-sync timestamp not advanced",
			res.RunID, len(res.Errors))
	}

	if e.progress != nil {
		e.progress(PhaseDone, 1, "")
	}
	e.logger.Printf("Sync run %s complete in %v: fetched=%v updated=%v deleted=%v errors=%d",
		res.RunID, res.Finished.Sub(res.Started).Round(time.Millisecond),
		res.ResourcesFetched, res.ResourcesUpdated, res.ResourcesDeleted, len(res.Errors))

	return res, nil
}

func runMode(full bool) string {
	if full {
		return "full"
	}
	return "incremental"
}

func (e *Engine) selectTypes(filter []string) []*config.ContentType {
	var out []*config.ContentType
	for i := range e.cfg.ContentTypes {
		ct := &e.cfg.ContentTypes[i]
		if len(filter) == 0 {
			out = append(out, ct)
			continue
		}
		for _, name := range filter {
			if ct.Name == name {
				out = append(out, ct)
				break
			}
		}
	}
	return out
}

// syncTaxonomies fetches every page of every configured taxonomy and
// upserts the terms.
func (e *Engine) syncTaxonomies(ctx context.Context, res *Result, prog *reporter) {
	n := len(e.cfg.Taxonomies)
	for i, tax := range e.cfg.Taxonomies {
		remoteTerms, err := e.api.ListTerms(ctx, tax.RestBase)
		if err != nil {
			res.addError("taxonomies/"+tax.Name, err)
			e.logger.Printf("WARNING: failed to fetch taxonomy %s: %v", tax.Name, err)
			continue
		}
		for _, rt := range remoteTerms {
			taxonomy := rt.Taxonomy
			if taxonomy == "" {
				taxonomy = tax.Name
			}
			if err := e.db.UpsertTerm(ctx, &store.Term{
				ID:       rt.ID,
				Taxonomy: taxonomy,
				Name:     rt.Name,
				Slug:     rt.Slug,
				ParentID: rt.Parent,
			}); err != nil {
				res.addError("taxonomies/"+tax.Name, err)
				continue
			}
			res.TermsSynced++
		}
		prog.report(PhaseTaxonomies, float64(i+1)/float64(n), tax.Name)
	}
	if n == 0 {
		prog.report(PhaseTaxonomies, 1, "")
	}
}

// syncContentType runs the per-type pipeline:
// FETCH -> RESOLVE_MEDIA -> PERSIST -> FETCH_SIDE_DATA ->
// PERSIST_SIDE_DATA -> (full mode only) DETECT_DELETIONS.
func (e *Engine) syncContentType(ctx context.Context, ct *config.ContentType, since time.Time, full bool, res *Result, remoteFields map[string]map[string]bool, prog *reporter) {
	fetchProg := prog.sub(0, fetchShare)
	mediaProg := prog.sub(fetchShare, mediaShare)
	sideProg := prog.sub(fetchShare+mediaShare, sideDataShare)

	// FETCH
	fetched, err := e.api.ListResources(ctx, ct.RestBase, remote.ListOptions{
		Status:        "publish,draft,pending,private,future",
		ModifiedAfter: since,
		OnPage: func(page, totalPages int) {
			fetchProg.report(PhaseFetch, float64(page)/float64(totalPages), ct.Name)
		},
	})
	if err != nil {
		res.addError("fetch/"+ct.Name, err)
		e.logger.Printf("WARNING: failed to fetch %s: %v", ct.Name, err)
		return
	}
	res.ResourcesFetched[ct.Name] = len(fetched)
	fetchProg.report(PhaseFetch, 1, ct.Name)

	// RESOLVE_MEDIA
	mediaURLs := e.resolveMedia(ctx, ct, fetched, res, mediaProg)

	// PERSIST
	observed := remoteFields[ct.Name]
	if observed == nil {
		observed = make(map[string]bool)
		remoteFields[ct.Name] = observed
	}
	for _, rr := range fetched {
		if err := e.persistResource(ctx, ct, rr, mediaURLs, observed, res); err != nil {
			res.addError("persist/"+ct.Name, err)
		}
	}
	prog.report(PhasePersist, fetchShare+mediaShare, ct.Name)

	// FETCH_SIDE_DATA + PERSIST_SIDE_DATA
	e.syncSideData(ctx, ct, fetched, res, sideProg)

	// DETECT_DELETIONS
	if full {
		e.detectDeletions(ctx, ct, res)
		prog.report(PhaseDeletions, 1, ct.Name)
	}
}

// resolveMedia maps referenced featured-media ids to URLs with a per-run
// cache and bounded concurrency.
func (e *Engine) resolveMedia(ctx context.Context, ct *config.ContentType, fetched []*remote.Resource, res *Result, prog *reporter) map[int64]string {
	seen := make(map[int64]bool)
	var ids []int64
	for _, rr := range fetched {
		if rr.FeaturedMedia != 0 && !seen[rr.FeaturedMedia] {
			seen[rr.FeaturedMedia] = true
			ids = append(ids, rr.FeaturedMedia)
		}
	}

	urls := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		prog.report(PhaseMedia, 1, ct.Name)
		return urls
	}

	var mu stdsync.Mutex
	err := mapBounded(ctx, e.cfg.Workers, ids, func(ctx context.Context, id int64) error {
		m, err := e.api.GetMedia(ctx, id)
		if err != nil {
			return fmt.Errorf("media %d: %w", id, err)
		}
		mu.Lock()
		urls[id] = m.SourceURL
		mu.Unlock()
		return nil
	}, func(completed, total int) {
		prog.report(PhaseMedia, float64(completed)/float64(total), ct.Name)
	})
	if err != nil {
		res.addError("media/"+ct.Name, err)
		e.logger.Printf("WARNING: media resolution for %s aborted: %v", ct.Name, err)
	}
	prog.report(PhaseMedia, 1, ct.Name)
	return urls
}

// persistResource applies dirty-preserving persistence for one fetched
// record: dirty rows get a snapshot-only update, clean rows are fully
// replaced.
func (e *Engine) persistResource(ctx context.Context, ct *config.ContentType, rr *remote.Resource, mediaURLs map[int64]string, observed map[string]bool, res *Result) error {
	now := time.Now()

	meta := make(map[string]string, len(rr.Meta))
	for field, raw := range rr.Meta {
		observed[field] = true
		meta[field] = string(raw)
	}

	assignments := make(map[string][]int64)
	for _, taxName := range ct.Taxonomies {
		tax := e.cfg.TaxonomyByName(taxName)
		if tax == nil {
			continue
		}
		assignments[taxName] = terms.ResolveAssignment(rr.Meta, tax.StructuredField, rr.Extra[tax.RestBase])
	}

	snap := &store.Snapshot{
		Title:      rr.Title.Text(),
		Slug:       rr.Slug,
		Status:     rr.Status,
		Meta:       rr.Meta,
		Taxonomies: assignments,
	}

	existing, err := e.db.GetResource(ctx, rr.ID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load local copy of %d: %w", rr.ID, err)
	}

	// Local edits are never overwritten: a dirty record only gets its
	// snapshot, sync timestamp and remote-modified timestamp refreshed.
	if existing != nil && existing.Dirty {
		if err := e.db.UpdateSnapshot(ctx, rr.ID, snap, rr.Modified(), now); err != nil {
			return err
		}
		res.ResourcesUpdated[ct.Name]++
		return nil
	}

	rec := Record{
		Resource: &store.Resource{
			ID:               rr.ID,
			Type:             ct.Name,
			Title:            rr.Title.Text(),
			Slug:             rr.Slug,
			Status:           rr.Status,
			Content:          rr.Content.Text(),
			Excerpt:          rr.Excerpt.Text(),
			FeaturedMedia:    rr.FeaturedMedia,
			FeaturedMediaURL: mediaURLs[rr.FeaturedMedia],
			RemoteCreated:    rr.Created(),
			RemoteModified:   rr.Modified(),
			SyncedAt:         now,
			Snapshot:         snap,
		},
		Meta:  meta,
		Terms: assignments,
	}

	rec, err = e.PrePersist.Apply(rec)
	if err != nil {
		return err
	}

	if err := e.db.SaveSynced(ctx, rec.Resource, rec.Meta, rec.Terms); err != nil {
		return err
	}
	res.ResourcesUpdated[ct.Name]++
	return nil
}

// syncSideData fetches the per-record side channel (e.g. SEO) with bounded
// concurrency and persists it for clean records. Dirty records keep their
// local side-channel edits; the fetched copy only lands in the snapshot
// already written by persistResource.
func (e *Engine) syncSideData(ctx context.Context, ct *config.ContentType, fetched []*remote.Resource, res *Result, prog *reporter) {
	if e.cfg.SEOPlugin == "" || len(fetched) == 0 {
		prog.report(PhaseSideData, 1, ct.Name)
		return
	}

	type sideData struct {
		id   int64
		data map[string]string
	}
	var mu stdsync.Mutex
	var collected []sideData

	err := mapBounded(ctx, e.cfg.Workers, fetched, func(ctx context.Context, rr *remote.Resource) error {
		raw, err := e.api.GetSEO(ctx, ct.RestBase, rr.ID)
		if err != nil {
			return fmt.Errorf("side data for %d: %w", rr.ID, err)
		}
		data := make(map[string]string, len(raw))
		for k, v := range raw {
			data[k] = string(v)
		}
		mu.Lock()
		collected = append(collected, sideData{id: rr.ID, data: data})
		mu.Unlock()
		return nil
	}, func(completed, total int) {
		prog.report(PhaseSideData, float64(completed)/float64(total), ct.Name)
	})
	if err != nil {
		res.addError("side-data/"+ct.Name, err)
		e.logger.Printf("WARNING: side data fetch for %s aborted: %v", ct.Name, err)
	}

	for _, sd := range collected {
		existing, err := e.db.GetResource(ctx, sd.id)
		if err != nil {
			if err != sql.ErrNoRows {
				res.addError("side-data/"+ct.Name, err)
			}
			continue
		}
		if existing.Dirty {
			continue
		}
		if err := e.db.ReplacePluginData(ctx, sd.id, e.cfg.SEOPlugin, sd.data); err != nil {
			res.addError("side-data/"+ct.Name, err)
		}
	}
	prog.report(PhaseSideData, 1, ct.Name)
}

// detectDeletions diffs locally stored ids against the remote id listing
// and bulk-deletes any local id absent remotely. Full mode only: an
// incremental window cannot prove a record is gone.
func (e *Engine) detectDeletions(ctx context.Context, ct *config.ContentType, res *Result) {
	remoteIDs, err := e.api.ListResourceIDs(ctx, ct.RestBase)
	if err != nil {
		res.addError("deletions/"+ct.Name, err)
		e.logger.Printf("WARNING: deletion diff for %s skipped: %v", ct.Name, err)
		return
	}

	localIDs, err := e.db.ListIDs(ctx, ct.Name)
	if err != nil {
		res.addError("deletions/"+ct.Name, err)
		return
	}

	remoteSet := make(map[int64]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteSet[id] = true
	}

	var gone []int64
	for _, id := range localIDs {
		if !remoteSet[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return
	}

	deleted, err := e.db.DeleteResources(ctx, gone)
	if err != nil {
		res.addError("deletions/"+ct.Name, err)
	}
	res.ResourcesDeleted[ct.Name] += int(deleted)
	e.logger.Printf("Deleted %d local %s records absent remotely", deleted, ct.Name)
}

// fieldAudit compares locally-known meta field names against the ones
// observed remotely during this run, one row per content type, retained
// for the last 5 runs.
func (e *Engine) fieldAudit(ctx context.Context, types []*config.ContentType, remoteFields map[string]map[string]bool, res *Result) {
	for _, ct := range types {
		local, err := e.db.ListMetaFields(ctx, ct.Name)
		if err != nil {
			res.addError("field-audit/"+ct.Name, err)
			continue
		}

		var observed []string
		for field := range remoteFields[ct.Name] {
			observed = append(observed, field)
		}
		sort.Strings(observed)

		if err := e.db.RecordFieldAudit(ctx, res.RunID, ct.Name, local, observed); err != nil {
			res.addError("field-audit/"+ct.Name, err)
		}
	}
	if e.progress != nil {
		e.progress(PhaseFieldAudit, 1, "")
	}
}

// clearOrphanDirty clears dirty flags whose underlying edit turned out to
// be a no-op: the record's current fields, metadata and taxonomies deep-
// compare equal to its synced snapshot, so there is nothing to push.
func (e *Engine) clearOrphanDirty(ctx context.Context, res *Result) {
	dirty, err := e.db.ListDirty(ctx, "")
	if err != nil {
		res.addError("orphan-clear", err)
		return
	}

	cleared := 0
	for _, r := range dirty {
		if r.Snapshot == nil {
			continue
		}
		same, err := e.matchesSnapshot(ctx, r)
		if err != nil {
			res.addError("orphan-clear", err)
			continue
		}
		if !same {
			continue
		}
		if err := e.db.ClearDirty(ctx, r.ID); err != nil {
			res.addError("orphan-clear", err)
			continue
		}
		cleared++
	}
	if cleared > 0 {
		e.logger.Printf("Cleared %d orphaned dirty flags", cleared)
	}
	if e.progress != nil {
		e.progress(PhaseOrphanClear, 1, "")
	}
}

// matchesSnapshot deep-compares a record's current state against its
// synced snapshot.
func (e *Engine) matchesSnapshot(ctx context.Context, r *store.Resource) (bool, error) {
	snap := r.Snapshot
	if r.Title != snap.Title || r.Slug != snap.Slug || r.Status != snap.Status {
		return false, nil
	}

	meta, err := e.db.GetResourceMeta(ctx, r.ID)
	if err != nil {
		return false, err
	}
	if !metaEqual(meta, snap.Meta) {
		return false, nil
	}

	assignments, err := e.db.GetResourceTerms(ctx, r.ID)
	if err != nil {
		return false, err
	}
	return taxonomiesEqual(assignments, snap.Taxonomies), nil
}

// metaEqual compares stored metadata against snapshot metadata by decoded
// value, so formatting differences in the JSON text do not count as edits.
func metaEqual(current map[string]string, snap map[string]json.RawMessage) bool {
	if len(current) != len(snap) {
		return false
	}
	for field, raw := range current {
		snapRaw, ok := snap[field]
		if !ok {
			return false
		}
		if !jsonEqual(raw, string(snapRaw)) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b string) bool {
	av := store.DecodeValue(a)
	bv := store.DecodeValue(b)
	aj, errA := json.Marshal(av)
	bj, errB := json.Marshal(bv)
	if errA != nil || errB != nil {
		return a == b
	}
	return string(aj) == string(bj)
}

func taxonomiesEqual(current, snap map[string][]int64) bool {
	for taxonomy, snapIDs := range snap {
		if !idsEqual(current[taxonomy], snapIDs) {
			return false
		}
	}
	for taxonomy, ids := range current {
		if len(ids) > 0 {
			if _, ok := snap[taxonomy]; !ok {
				return false
			}
		}
	}
	return true
}

func idsEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int64(nil), a...)
	bs := append([]int64(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
