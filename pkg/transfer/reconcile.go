package transfer

import (
	"context"
	"sort"

	"ChunkVault/pkg/chunk"
	"ChunkVault/pkg/meta"
	"ChunkVault/pkg/objstore"

	"github.com/pkg/errors"
)

// ReconcileReport lists what a sweep found and, unless DryRun, repaired.
type ReconcileReport struct {
	DryRun  bool `json:"dry_run"`
	Checked int  `json:"checked"`
	// OrphanRecords had no chunks and were removed.
	OrphanRecords []string `json:"orphan_records,omitempty"`
	// Committed were pending uploads whose chunks all landed.
	Committed []string `json:"committed,omitempty"`
	// Incomplete records are missing data and are left for an operator.
	Incomplete []string `json:"incomplete,omitempty"`
	// FinishedDeletes were interrupted deletes.
	FinishedDeletes []string `json:"finished_deletes,omitempty"`
	// InFlight are pending records younger than the grace period.
	InFlight     []string `json:"in_flight,omitempty"`
	OrphanChunks int      `json:"orphan_chunks"`
	Unreachable  []string `json:"unreachable,omitempty"`
}

func (r *ReconcileReport) unreachable(id string) {
	for _, u := range r.Unreachable {
		if u == id {
			return
		}
	}
	r.Unreachable = append(r.Unreachable, id)
}

// Reconcile walks the catalog and every known container, finishing or
// undoing work left behind by interrupted uploads and deletes. With dryRun
// nothing is changed.
func (o *Orchestrator) Reconcile(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	recs, err := o.meta.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	rep := &ReconcileReport{DryRun: dryRun}

	conts := make(map[string]objstore.Target)
	for _, t := range o.res.Targets() {
		conts[t.ID()] = t
	}
	for _, rec := range recs {
		t := objstore.Target{Pool: rec.Pool, Container: rec.Container}
		if _, ok := conts[t.ID()]; !ok {
			conts[t.ID()] = t
		}
		if err := o.reconcileRecord(ctx, rec.Key, dryRun, rep); err != nil {
			return rep, errors.Wrapf(err, "reconcile %q", rec.Key)
		}
		rep.Checked++
	}

	ids := make([]string, 0, len(conts))
	for id := range conts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := o.sweepContainer(ctx, conts[id], dryRun, rep); err != nil {
			return rep, errors.Wrapf(err, "sweep %s", id)
		}
	}

	if !dryRun {
		o.opts.Metrics.Repair("orphan_record", len(rep.OrphanRecords))
		o.opts.Metrics.Repair("commit", len(rep.Committed))
		o.opts.Metrics.Repair("finish_delete", len(rep.FinishedDeletes))
		o.opts.Metrics.Repair("orphan_chunk", rep.OrphanChunks)
	}
	o.logger.Info().Bool("dry_run", dryRun).Int("checked", rep.Checked).
		Int("orphan_records", len(rep.OrphanRecords)).Int("committed", len(rep.Committed)).
		Int("incomplete", len(rep.Incomplete)).Int("finished_deletes", len(rep.FinishedDeletes)).
		Int("orphan_chunks", rep.OrphanChunks).Msg("reconciled")
	return rep, nil
}

func (o *Orchestrator) reconcileRecord(ctx context.Context, key string, dryRun bool, rep *ReconcileReport) error {
	unlock, err := o.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the lock; the listing may be stale.
	rec, err := o.meta.Find(ctx, key)
	if errors.Is(err, meta.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status == meta.StatusPending && o.now().Sub(rec.UploadTime.Time) < o.opts.PendingGrace {
		rep.InFlight = append(rep.InFlight, key)
		return nil
	}
	cont, err := o.res.Open(ctx, rec.Pool, rec.Container)
	if err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("record container unavailable")
		rep.unreachable(objstore.Target{Pool: rec.Pool, Container: rec.Container}.ID())
		return nil
	}

	if rec.Status == meta.StatusDeleting {
		rep.FinishedDeletes = append(rep.FinishedDeletes, key)
		if dryRun {
			return nil
		}
		if _, err := o.deleteChunks(ctx, cont, key, rec.ChunkCount); err != nil {
			return err
		}
		_, err := o.meta.Delete(ctx, key)
		return err
	}

	count := 0
	if rec.KnownChunkCount() {
		count = rec.ChunkCount
	}
	chunks, _, err := o.chunks(ctx, cont, key, count)
	if err != nil {
		return err
	}
	present, bytes := countPresent(chunks)
	switch {
	case present == 0:
		rep.OrphanRecords = append(rep.OrphanRecords, key)
		if !dryRun {
			_, err = o.meta.Delete(ctx, key)
		}
	case rec.Status == meta.StatusPending && bytes == rec.Size:
		rep.Committed = append(rep.Committed, key)
		if !dryRun {
			rec.Status = meta.StatusCommitted
			rec.ChunkCount = len(chunks)
			err = o.meta.Update(ctx, rec)
		}
	case present < len(chunks) || bytes != rec.Size:
		rep.Incomplete = append(rep.Incomplete, key)
		o.logger.Warn().Str("key", key).Int("chunks", present).Int64("bytes", bytes).Int64("size", rec.Size).
			Msg("record does not match its chunks")
	}
	return err
}

// sweepContainer deletes chunk entries whose user key has no record pointing
// at this container.
func (o *Orchestrator) sweepContainer(ctx context.Context, t objstore.Target, dryRun bool, rep *ReconcileReport) error {
	cont, err := o.res.Open(ctx, t.Pool, t.Container)
	if err != nil {
		o.logger.Warn().Err(err).Str("pool", t.Pool).Str("container", t.Container).Msg("skipping unavailable container")
		rep.unreachable(t.ID())
		return nil
	}
	keys, err := cont.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "list entries")
	}
	byKey := make(map[string][]string)
	var users []string
	for _, k := range keys {
		userKey, _, ok := chunk.ParseKey(k)
		if !ok {
			continue
		}
		if _, seen := byKey[userKey]; !seen {
			users = append(users, userKey)
		}
		byKey[userKey] = append(byKey[userKey], k)
	}
	sort.Strings(users)
	for _, userKey := range users {
		n, err := o.sweepKey(ctx, cont, t, userKey, byKey[userKey], dryRun)
		if err != nil {
			return err
		}
		rep.OrphanChunks += n
	}
	return nil
}

func (o *Orchestrator) sweepKey(ctx context.Context, cont objstore.Container, t objstore.Target, userKey string, entries []string, dryRun bool) (int, error) {
	unlock, err := o.lock(ctx, userKey)
	if err != nil {
		return 0, err
	}
	defer unlock()

	rec, err := o.meta.Find(ctx, userKey)
	switch {
	case err == nil:
		if rec.Pool == t.Pool && rec.Container == t.Container {
			return 0, nil
		}
	case !errors.Is(err, meta.ErrNotFound):
		return 0, err
	}
	if dryRun {
		return len(entries), nil
	}
	removed := 0
	for _, e := range entries {
		err := cont.Delete(ctx, e)
		if errors.Is(err, objstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, errors.Wrapf(err, "delete %q", e)
		}
		removed++
	}
	o.logger.Info().Str("key", userKey).Str("pool", t.Pool).Str("container", t.Container).Int("chunks", removed).
		Msg("removed orphan chunks")
	return removed, nil
}
