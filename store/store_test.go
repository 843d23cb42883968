package store

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"spingap"
)

func TestStore(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "gap.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()

	ctx := context.Background()
	spec := spingap.ChainSpec{Length: 4, J: 1, Spin: spingap.SpinHalf}
	if _, ok, err := s.Get(ctx, spec); err != nil || ok {
		t.Fatalf("%t %+v", ok, err)
	}

	r := Record{Spec: spec, Gap: spingap.Gap{Value: 0.5, Status: spingap.StatusOK, Method: spingap.MethodSectorScan}}
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("%+v", err)
	}
	got, ok, err := s.Get(ctx, spec)
	if err != nil || !ok {
		t.Fatalf("%t %+v", ok, err)
	}
	if got != r {
		t.Fatalf("%+v %+v", got, r)
	}

	// Replacing a chain keeps one record per key.
	r.Gap = spingap.Gap{Status: spingap.StatusClamped, Method: spingap.MethodOrthogonalPenalty}
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Put(ctx, Record{
		Spec: spingap.ChainSpec{Length: 2, J: 1, Spin: spingap.SpinHalf},
		Gap:  spingap.Gap{Value: 1, Status: spingap.StatusOK, Method: spingap.MethodOrthogonalPenalty},
	}); err != nil {
		t.Fatalf("%+v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(all) != 2 {
		t.Fatalf("%+v", all)
	}
	if all[0].Spec.Length != 2 || all[1].Spec.Length != 4 {
		t.Fatalf("%+v", all)
	}
	if all[1].Gap.Status != spingap.StatusClamped {
		t.Fatalf("%+v", all[1])
	}
}

// TestStoreResume checks that reopening a store sees previous records.
func TestStoreResume(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "gap.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ctx := context.Background()
	spec := spingap.ChainSpec{Length: 6, J: 1, Spin: spingap.SpinHalf}
	r := Record{Spec: spec, Gap: spingap.Gap{Value: 0.3, Status: spingap.StatusOK, Method: spingap.MethodOrthogonalPenalty}}
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()
	got, ok, err := s.Get(ctx, spec)
	if err != nil || !ok {
		t.Fatalf("%t %+v", ok, err)
	}
	if got != r {
		t.Fatalf("%+v %+v", got, r)
	}
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
