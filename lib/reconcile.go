package lib

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/r3labs/diff/v2"
)

const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
)

type OpResult struct {
	Op      string
	ID      string
	Handle  Handle
	Changed []string
	Err     error
}

type ReconcileResult struct {
	Adds    []OpResult
	Updates []OpResult
	Deletes []Handle
	Kept    []string
	Errors  []error
}

func (r *ReconcileResult) Summary() string {
	changed := 0
	for _, u := range r.Updates {
		if u.Err == nil && len(u.Changed) > 0 {
			changed++
		}
	}
	return fmt.Sprintf("%d added, %d updated (%d changed), %d deleted, %d kept, %d errors",
		countOk(r.Adds), countOk(r.Updates), changed, len(r.Deletes), len(r.Kept), len(r.Errors))
}

func countOk(results []OpResult) int {
	n := 0
	for _, res := range results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Reconciler syncs one profile's stored entries with a fresh snapshot.
type Reconciler struct {
	Storage Storage
	IDField string
	Fields  []string // schema fields, cleared from entries when absent from a fresh record
	Account string
	Now     func() time.Time
}

// Reconcile adds unseen ids, updates seen ones and deletes stored ids that
// are no longer in fresh. Ids in skipped are instances that still exist but
// could not be transformed, their entries are kept as they are. Each
// operation is independent, failures are collected in the result. Only
// failing to read the stored entries is returned as an error.
func (rc *Reconciler) Reconcile(ctx context.Context, profile string, fresh []Record, skipped ...string) (*ReconcileResult, error) {
	now := rc.Now
	if now == nil {
		now = time.Now
	}
	entries, err := rc.Storage.Entries(ctx, profile)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	stored := map[string]Entry{}
	for _, e := range entries {
		stored[e.Record.Get(rc.IDField)] = e
	}
	result := &ReconcileResult{}
	seen := map[string]bool{}
	for _, id := range skipped {
		if _, ok := stored[id]; ok && !seen[id] {
			result.Kept = append(result.Kept, id)
		}
		seen[id] = true
	}
	for _, r := range fresh {
		id := r.Get(rc.IDField)
		if id == "" {
			err := fmt.Errorf("record without %s: %s", rc.IDField, Pformat(r.Any()))
			result.Errors = append(result.Errors, err)
			continue
		}
		seen[id] = true
		entry, ok := stored[id]
		if !ok {
			add := r.Copy()
			add[FieldInserted] = Scalar(now().Unix())
			if rc.Account != "" {
				add[FieldAccount] = Scalar(rc.Account)
			}
			h, err := rc.Storage.Add(ctx, profile, add)
			res := OpResult{Op: OpAdd, ID: id, Handle: h, Err: err}
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("add %s: %w", id, err))
			} else {
				stored[id] = Entry{Handle: h, Record: add}
			}
			result.Adds = append(result.Adds, res)
			continue
		}
		set := r.Copy()
		delete(set, rc.IDField)
		var clear []string
		for _, field := range rc.Fields {
			_, inFresh := r[field]
			_, inStored := entry.Record[field]
			if field != rc.IDField && !inFresh && inStored {
				clear = append(clear, field)
			}
		}
		cmpSet, cmpClear := set, clear
		if sf, ok := rc.Storage.(StoredFormer); ok {
			cmpSet, cmpClear = sf.StoredForm(set, clear)
		}
		changed, err := changedFields(entry.Record, cmpSet, cmpClear)
		if err != nil {
			Logger.Println("error:", err)
		}
		err = rc.Storage.Update(ctx, entry.Handle, set, clear)
		res := OpResult{Op: OpUpdate, ID: id, Handle: entry.Handle, Changed: changed, Err: err}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("update %s: %w", id, err))
		}
		result.Updates = append(result.Updates, res)
	}
	var stale []Entry
	for id, e := range stored {
		if !seen[id] {
			stale = append(stale, e)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Handle < stale[j].Handle })
	for _, e := range stale {
		err := rc.Storage.Delete(ctx, e.Handle)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", e.Handle, err))
			continue
		}
		result.Deletes = append(result.Deletes, e.Handle)
	}
	return result, nil
}

func changedFields(stored Record, set Record, clear []string) ([]string, error) {
	before := Record{}
	for k := range set {
		if v, ok := stored[k]; ok {
			before[k] = v
		}
	}
	for _, k := range clear {
		if v, ok := stored[k]; ok {
			before[k] = v
		}
	}
	changelog, err := diff.Diff(before.Any(), set.Any())
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, change := range changelog {
		path := strings.Join(change.Path, ".")
		if !Contains(changed, path) {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
