package sync

// ProgressFunc receives (phase name, overall progress in [0,1], optional
// detail). Progress is non-decreasing within a phase.
type ProgressFunc func(phase string, progress float64, detail string)

// Phase names reported to the progress callback.
const (
	PhaseTaxonomies  = "taxonomies"
	PhaseFetch       = "fetch"
	PhaseMedia       = "media"
	PhasePersist     = "persist"
	PhaseSideData    = "side-data"
	PhaseDeletions   = "deletions"
	PhaseFieldAudit  = "field-audit"
	PhaseOrphanClear = "orphan-clear"
	PhaseDone        = "done"
)

// Overall weighting: the taxonomy phase owns the first 5%, the remaining
// 95% is split evenly across content types. Within one content type:
// fetch 50%, media resolution 25%, side data 25%.
const (
	taxonomyWeight = 0.05
	fetchShare     = 0.50
	mediaShare     = 0.25
	sideDataShare  = 0.25
)

// reporter maps phase-local fractions onto the overall [0,1] window.
type reporter struct {
	fn   ProgressFunc
	base float64
	span float64
	last float64
}

func newReporter(fn ProgressFunc, base, span float64) *reporter {
	return &reporter{fn: fn, base: base, span: span, last: base}
}

// report emits overall progress for a phase-local fraction. Fractions are
// clamped and the emitted value never decreases, so a jittery page counter
// cannot walk progress backwards.
func (r *reporter) report(phase string, frac float64, detail string) {
	if r.fn == nil {
		return
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	overall := r.base + frac*r.span
	if overall < r.last {
		overall = r.last
	}
	r.last = overall
	r.fn(phase, overall, detail)
}

// sub returns a reporter for a slice of this reporter's window.
func (r *reporter) sub(offset, share float64) *reporter {
	return newReporter(r.fn, r.base+offset*r.span, share*r.span)
}

// taxonomyWindow returns the reporter for the taxonomy phase.
func taxonomyWindow(fn ProgressFunc) *reporter {
	return newReporter(fn, 0, taxonomyWeight)
}

// typeWindow returns the reporter for content type i of n.
func typeWindow(fn ProgressFunc, i, n int) *reporter {
	span := (1 - taxonomyWeight) / float64(n)
	return newReporter(fn, taxonomyWeight+float64(i)*span, span)
}
