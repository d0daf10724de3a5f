package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/tabarch/internal/errors"
)

func create(t *testing.T) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.h5")
	c, err := Create(path, 512)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c, path
}

func TestCreateExclusive(t *testing.T) {
	c, path := create(t)
	defer c.Close()

	if _, err := Create(path, 512); err == nil {
		t.Fatal("expected error creating over existing file")
	}
}

func TestNumericRoundTrip(t *testing.T) {
	c, path := create(t)

	d, err := c.CreateDataset("/val", Float64, false)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if err := d.SetAttr("label", "Current"); err != nil {
		t.Fatalf("set attr: %v", err)
	}

	for _, batch := range [][]float64{{1.5, 2.5, 3.5}, {4.5}} {
		if n, err := d.Append(batch); err != nil || n != len(batch) {
			t.Fatalf("append: n=%d err=%v", n, err)
		}
	}
	if d.Rows() != 4 {
		t.Fatalf("rows = %d, want 4", d.Rows())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	v, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.Prefix != 512 {
		t.Errorf("prefix = %d, want 512", v.Prefix)
	}
	dv, ok := v.Dataset("/val")
	if !ok {
		t.Fatal("dataset /val missing from view")
	}
	got, err := dv.Float64s()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	want := []float64{1.5, 2.5, 3.5, 4.5}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], want[i])
		}
	}
	if label, ok := dv.AttrString("label"); !ok || label != "Current" {
		t.Errorf("label attr = %q, %v", label, ok)
	}
}

func TestCompressedChunks(t *testing.T) {
	c, path := create(t)

	d, err := c.CreateDataset("/z", Int32, true)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	values := make([]int32, 1000)
	for i := range values {
		values[i] = int32(i % 7)
	}
	if _, err := d.Append(values); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	v, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	dv, _ := v.Dataset("/z")
	if !dv.Compressed {
		t.Error("dataset not marked compressed")
	}
	got, err := dv.Float64s()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(got) != 1000 || got[8] != 1 {
		t.Fatalf("decompressed values wrong: len=%d got[8]=%v", len(got), got[8])
	}
}

func TestRefDataset(t *testing.T) {
	c, path := create(t)

	if err := c.CreateGroup("/#refs#"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	blob, err := c.CreateDataset("/#refs#/cellval0", Uint8, false)
	if err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if _, err := blob.Append([]uint8{9, 8, 7}); err != nil {
		t.Fatalf("append blob: %v", err)
	}

	refs, err := c.CreateRefDataset("/img")
	if err != nil {
		t.Fatalf("create ref dataset: %v", err)
	}
	if _, err := refs.AppendRefs([]Ref{blob.Ref(), blob.Ref()}); err != nil {
		t.Fatalf("append refs: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	v, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !v.HasGroup("/#refs#") {
		t.Error("group missing from view")
	}
	dv, _ := v.Dataset("/img")
	got, err := dv.Refs()
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	if len(got) != 2 || got[0] != got[1] {
		t.Fatalf("refs = %v", got)
	}
	target, ok := v.ByRef(got[0])
	if !ok || target.Path != "/#refs#/cellval0" {
		t.Fatalf("ByRef resolved to %v, ok=%v", target, ok)
	}
}

func TestElementMismatch(t *testing.T) {
	c, _ := create(t)
	defer c.Close()

	d, err := c.CreateDataset("/val", Float64, false)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if _, err := d.Append([]int32{1}); !errors.Is(err, errors.ErrElementMismatch) {
		t.Fatalf("err = %v, want ErrElementMismatch", err)
	}
	if _, err := d.AppendRefs([]Ref{1}); !errors.Is(err, errors.ErrElementMismatch) {
		t.Fatalf("AppendRefs on fixed dataset: err = %v", err)
	}
}

func TestDuplicateCreation(t *testing.T) {
	c, _ := create(t)
	defer c.Close()

	if _, err := c.CreateDataset("/val", Float64, false); err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if _, err := c.CreateDataset("/val", Float64, false); !errors.Is(err, errors.ErrDatasetExists) {
		t.Fatalf("err = %v, want ErrDatasetExists", err)
	}

	if err := c.CreateGroup("/g"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := c.CreateGroup("/g"); !errors.Is(err, errors.ErrGroupExists) {
		t.Fatalf("err = %v, want ErrGroupExists", err)
	}
	if err := c.RequireGroup("/g"); err != nil {
		t.Fatalf("require group: %v", err)
	}
}

func TestClosedOperations(t *testing.T) {
	c, _ := create(t)

	d, err := c.CreateDataset("/val", Float64, false)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := d.Append([]float64{1}); !errors.Is(err, errors.ErrContainerClosed) {
		t.Errorf("append after close: err = %v", err)
	}
	if err := c.Flush(); !errors.Is(err, errors.ErrContainerClosed) {
		t.Errorf("flush after close: err = %v", err)
	}
	if err := c.Close(); !errors.Is(err, errors.ErrContainerClosed) {
		t.Errorf("double close: err = %v", err)
	}
}

func TestTornTailTolerated(t *testing.T) {
	c, path := create(t)

	d, err := c.CreateDataset("/val", Float64, false)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if _, err := d.Append([]float64{1, 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-record: a partial header at the tail.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{42, 0, 0}); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()

	v, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !v.Truncated {
		t.Error("view not marked truncated")
	}
	dv, ok := v.Dataset("/val")
	if !ok || dv.Rows() != 2 {
		t.Fatalf("data before torn tail lost: ok=%v", ok)
	}
}

func TestFlushedDataReadableWhileOpen(t *testing.T) {
	c, path := create(t)
	defer c.Close()

	d, err := c.CreateDataset("/val", Uint64, false)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if _, err := d.Append([]uint64{5, 6, 7}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	v, err := Read(path)
	if err != nil {
		t.Fatalf("read while open: %v", err)
	}
	dv, _ := v.Dataset("/val")
	got, err := dv.Uint64s()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(got) != 3 || got[2] != 7 {
		t.Fatalf("values = %v", got)
	}
}

func TestSizeIncludesBuffered(t *testing.T) {
	c, _ := create(t)
	defer c.Close()

	before, err := c.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}

	d, err := c.CreateDataset("/val", Float64, false)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if _, err := d.Append(make([]float64, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}

	after, err := c.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if after <= before {
		t.Errorf("size did not grow: before=%d after=%d", before, after)
	}
}
