package lib

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"
)

func fresh(ids ...string) []Record {
	var records []Record
	for _, id := range ids {
		records = append(records, Record{"id": Scalar(id), "name": Scalar("name-" + id), "status": Scalar("running")})
	}
	return records
}

func testReconciler(s Storage) *Reconciler {
	return &Reconciler{
		Storage: s,
		IDField: "id",
		Fields:  []string{"id", "name", "status", "ip"},
		Account: "123456789012",
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func storedIDs(t *testing.T, s Storage, profile string) []string {
	entries, err := s.Entries(context.Background(), profile)
	if err != nil {
		t.Fatal(err)
	}
	var xs []string
	for _, e := range entries {
		xs = append(xs, e.Record.Get("id"))
	}
	sort.Strings(xs)
	return xs
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("id")
	rc := testReconciler(s)
	result, err := rc.Reconcile(ctx, "prod", fresh("A", "B", "C"))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Adds) != 3 || len(result.Updates) != 0 || len(result.Deletes) != 0 {
		t.Fatalf("got: %s", result.Summary())
	}
	_, err = s.Add(ctx, "dev", Record{"id": Scalar("A")})
	if err != nil {
		t.Fatal(err)
	}
	next := fresh("B", "C", "D")
	next[0]["status"] = Scalar("stopped")
	result, err = rc.Reconcile(ctx, "prod", next)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Adds) != 1 || len(result.Updates) != 2 || len(result.Deletes) != 1 || len(result.Errors) != 0 {
		t.Fatalf("got: %s", result.Summary())
	}
	if result.Adds[0].ID != "D" {
		t.Errorf("got:\n%s\nwant:\nD\n", result.Adds[0].ID)
	}
	if !reflect.DeepEqual(result.Updates[0].Changed, []string{"status"}) || len(result.Updates[1].Changed) != 0 {
		t.Errorf("got: %v %v", result.Updates[0].Changed, result.Updates[1].Changed)
	}
	want := []string{"B", "C", "D"}
	if got := storedIDs(t, s, "prod"); !reflect.DeepEqual(got, want) {
		t.Errorf("got:\n%v\nwant:\n%v\n", got, want)
	}
	if got := storedIDs(t, s, "dev"); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("other profiles must be left alone, got %v", got)
	}
	found, _ := s.Find(ctx, "id", "D")
	if len(found) != 1 || found[0].Get(FieldInserted) != "1700000000" || found[0].Get(FieldAccount) != "123456789012" || found[0].Get(FieldProfile) != "prod" {
		t.Errorf("got:\n%s\n", Pformat(found))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("id")
	rc := testReconciler(s)
	_, err := rc.Reconcile(ctx, "prod", fresh("A", "B"))
	if err != nil {
		t.Fatal(err)
	}
	result, err := rc.Reconcile(ctx, "prod", fresh("A", "B"))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Adds) != 0 || len(result.Deletes) != 0 || len(result.Updates) != 2 {
		t.Fatalf("got: %s", result.Summary())
	}
	for _, u := range result.Updates {
		if u.Err != nil || len(u.Changed) != 0 {
			t.Errorf("expected a no-op update for %s, got %v %v", u.ID, u.Changed, u.Err)
		}
	}
}

func TestReconcileClearsDroppedFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("id")
	rc := testReconciler(s)
	first := fresh("A")
	first[0]["ip"] = Scalar("1.2.3.4")
	_, err := rc.Reconcile(ctx, "prod", first)
	if err != nil {
		t.Fatal(err)
	}
	h, _, _ := s.Lookup(ctx, "prod", "A")
	err = s.Update(ctx, h, Record{FieldSSHUser: Scalar("ubuntu")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := rc.Reconcile(ctx, "prod", fresh("A"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Updates[0].Changed, []string{"ip"}) {
		t.Errorf("got:\n%v\nwant:\n[ip]\n", result.Updates[0].Changed)
	}
	found, _ := s.Find(ctx, "id", "A")
	if _, ok := found[0]["ip"]; ok {
		t.Errorf("expected ip cleared")
	}
	if found[0].Get(FieldSSHUser) != "ubuntu" {
		t.Errorf("expected sshuser kept, got:\n%s\n", Pformat(found))
	}
}

type failingStorage struct {
	*MemoryStorage
	failAdd   string
	failEntry bool
}

func (f *failingStorage) Entries(ctx context.Context, profile string) ([]Entry, error) {
	if f.failEntry {
		return nil, errors.New("unreachable")
	}
	return f.MemoryStorage.Entries(ctx, profile)
}

func (f *failingStorage) Add(ctx context.Context, profile string, r Record) (Handle, error) {
	if r.Get("id") == f.failAdd {
		return "", errors.New("throttled")
	}
	return f.MemoryStorage.Add(ctx, profile, r)
}

func TestReconcileCollectsErrors(t *testing.T) {
	ctx := context.Background()
	s := &failingStorage{MemoryStorage: NewMemoryStorage("id"), failAdd: "B"}
	rc := testReconciler(s)
	records := append(fresh("A", "B", "C"), Record{"name": Scalar("no id")})
	result, err := rc.Reconcile(ctx, "prod", records)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 2 || countOk(result.Adds) != 2 {
		t.Errorf("got: %s %v", result.Summary(), result.Errors)
	}
	if got := storedIDs(t, s, "prod"); !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Errorf("got:\n%v\nwant:\n[A C]\n", got)
	}
	s.failEntry = true
	_, err = rc.Reconcile(ctx, "prod", fresh("A"))
	if err == nil {
		t.Errorf("expected entries error")
	}
}

func TestReconcileKeepsSkipped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("id")
	rc := testReconciler(s)
	_, err := rc.Reconcile(ctx, "prod", fresh("A", "B"))
	if err != nil {
		t.Fatal(err)
	}
	h, _, _ := s.Lookup(ctx, "prod", "B")
	err = s.Update(ctx, h, Record{FieldSSHUser: Scalar("ubuntu")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := rc.Reconcile(ctx, "prod", fresh("A"), "B", "Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Deletes) != 0 || len(result.Adds) != 0 || len(result.Updates) != 1 {
		t.Fatalf("got: %s", result.Summary())
	}
	if !reflect.DeepEqual(result.Kept, []string{"B"}) {
		t.Errorf("got:\n%v\nwant:\n[B]\n", result.Kept)
	}
	found, _ := s.Find(ctx, "id", "B")
	if len(found) != 1 || found[0].Get(FieldSSHUser) != "ubuntu" {
		t.Errorf("expected B kept with its user, got:\n%s\n", Pformat(found))
	}
}

// indexedStorage writes through the same index stringification as the
// dynamodb storage.
type indexedStorage struct {
	*MemoryStorage
	dynamo *DynamoDBStorage
}

func (s *indexedStorage) StoredForm(set Record, clear []string) (Record, []string) {
	return s.dynamo.StoredForm(set, clear)
}

func (s *indexedStorage) Add(ctx context.Context, profile string, r Record) (Handle, error) {
	r, _ = s.dynamo.indexed(r)
	return s.MemoryStorage.Add(ctx, profile, r)
}

func (s *indexedStorage) Update(ctx context.Context, h Handle, set Record, clear []string) error {
	set, clear = s.dynamo.StoredForm(set, clear)
	return s.MemoryStorage.Update(ctx, h, set, clear)
}

func TestReconcileIdempotentWithIndexedLists(t *testing.T) {
	ctx := context.Background()
	s := &indexedStorage{
		MemoryStorage: NewMemoryStorage("id"),
		dynamo:        &DynamoDBStorage{IDField: "id", Indexes: []string{"name", "status"}},
	}
	rc := testReconciler(s)
	records := func() []Record {
		rs := fresh("A", "B")
		rs[0]["name"] = ListOf(Scalar("web"), Scalar("api"))
		rs[1]["name"] = Scalar("")
		return rs
	}
	_, err := rc.Reconcile(ctx, "prod", records())
	if err != nil {
		t.Fatal(err)
	}
	result, err := rc.Reconcile(ctx, "prod", records())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Updates) != 2 {
		t.Fatalf("got: %s", result.Summary())
	}
	for _, u := range result.Updates {
		if u.Err != nil || len(u.Changed) != 0 {
			t.Errorf("expected a no-op update for %s, got %v %v", u.ID, u.Changed, u.Err)
		}
	}
	found, _ := s.Find(ctx, "id", "A")
	if len(found) != 1 || found[0].Get("name") != "web,api" {
		t.Errorf("got:\n%s\n", Pformat(found))
	}
}
