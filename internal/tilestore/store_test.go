package tilestore

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("fake tile payload")
	if err := s.Put(pc.Root, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(pc.Root)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tile bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestGetNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Get(pc.NodeId("r07"))
	if _, ok := err.(*pc.NodeAbsentError); !ok {
		t.Fatalf("expected NodeAbsentError, got %T: %v", err, err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ids := []pc.NodeId{pc.Root, pc.NodeId("r0"), pc.NodeId("r01234567")}
	for _, id := range ids {
		if err := s.Put(id, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ids) {
		t.Fatalf("List returned %d entries, want %d", len(got), len(ids))
	}
}

func TestScratchAppendReadDelete(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenScratch(dir, pc.Root)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAllScratch(dir, pc.Root)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("ReadAllScratch = %q, want %q", got, "hello world")
	}
	if err := DeleteScratch(dir, pc.Root); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAllScratch(dir, pc.Root); err == nil {
		t.Fatal("expected error reading deleted scratch file")
	}
}

func TestScratchExists(t *testing.T) {
	dir := t.TempDir()
	if ok, err := ScratchExists(dir, pc.Root); err != nil || ok {
		t.Fatalf("ScratchExists = %v, %v; want false, nil", ok, err)
	}
	w, err := OpenScratch(dir, pc.Root)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if ok, err := ScratchExists(dir, pc.Root); err != nil || !ok {
		t.Fatalf("ScratchExists = %v, %v; want true, nil", ok, err)
	}
}
