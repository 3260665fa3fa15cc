package braid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleInterrupt() *WorkflowInterrupt {
	return &WorkflowInterrupt{
		NodeID:     "approve",
		State:      WorkflowState{"draft": "v1", "meta": map[string]any{"owner": "ops"}},
		DataToSave: WorkflowState{"pending": "launch"},
	}
}

func TestMemoryPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersistence()

	if err := p.Save(ctx, "wf", sampleInterrupt()); err != nil {
		t.Fatal(err)
	}
	got, err := p.Load(ctx, "wf")
	if err != nil {
		t.Fatal(err)
	}
	if got.NodeID != "approve" || got.State["draft"] != "v1" || got.DataToSave["pending"] != "launch" {
		t.Errorf("loaded = %+v", got)
	}

	if err := p.Delete(ctx, "wf"); err != nil {
		t.Fatal(err)
	}
	got, err = p.Load(ctx, "wf")
	if err != nil || got != nil {
		t.Errorf("after delete: %v, %v, want nil, nil", got, err)
	}
}

func TestMemoryPersistenceIsolation(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersistence()
	in := sampleInterrupt()
	if err := p.Save(ctx, "wf", in); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not reach the stored snapshot.
	in.State["draft"] = "tampered"
	in.State["meta"].(map[string]any)["owner"] = "intruder"

	first, _ := p.Load(ctx, "wf")
	if first.State["draft"] != "v1" {
		t.Error("stored state shares memory with the saved value")
	}
	if first.State["meta"].(map[string]any)["owner"] != "ops" {
		t.Error("stored nested map shares memory with the saved value")
	}

	// Mutating a loaded copy must not affect later loads.
	first.State["draft"] = "scribbled"
	second, _ := p.Load(ctx, "wf")
	if second.State["draft"] != "v1" {
		t.Error("loaded state shares memory with the store")
	}
}

func TestMemoryPersistenceSaveNil(t *testing.T) {
	p := NewMemoryPersistence()
	if err := p.Save(context.Background(), "wf", nil); err == nil {
		t.Error("Save(nil) succeeded")
	}
}

func TestFilePersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := NewFilePersistence(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Save(ctx, "release", sampleInterrupt()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	got, err := p.Load(ctx, "release")
	if err != nil {
		t.Fatal(err)
	}
	if got.NodeID != "approve" || got.State["draft"] != "v1" || got.DataToSave["pending"] != "launch" {
		t.Errorf("loaded = %+v", got)
	}

	if err := p.Delete(ctx, "release"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); !os.IsNotExist(err) {
		t.Error("snapshot file still present after Delete")
	}
	// Deleting again is a no-op.
	if err := p.Delete(ctx, "release"); err != nil {
		t.Fatal(err)
	}
}

func TestFilePersistenceLoadMissing(t *testing.T) {
	p, err := NewFilePersistence(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Load(context.Background(), "never-saved")
	if err != nil || got != nil {
		t.Errorf("Load missing = %v, %v, want nil, nil", got, err)
	}
}

func TestFilePersistenceInvalidID(t *testing.T) {
	p, err := NewFilePersistence(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, id := range []string{"", "a/b", `a\b`} {
		if err := p.Save(ctx, id, sampleInterrupt()); err == nil {
			t.Errorf("Save(%q) succeeded", id)
		} else if !strings.Contains(err.Error(), "invalid workflow id") {
			t.Errorf("Save(%q) error = %v", id, err)
		}
		if _, err := p.Load(ctx, id); err == nil {
			t.Errorf("Load(%q) succeeded", id)
		}
	}
}

func TestFilePersistenceCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersistence(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "wf.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = p.Load(context.Background(), "wf")
	if err == nil || !strings.Contains(err.Error(), "decode snapshot") {
		t.Errorf("error = %v", err)
	}
}

// A workflow interrupted in one process can be resumed by a second
// instance built the same way over the same directory.
func TestFilePersistenceResumeAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFilePersistence(dir)
	if err != nil {
		t.Fatal(err)
	}
	w1 := approvalWorkflow(WithWorkflowID("release"), WithPersistence(first))
	_, err = w1.Run(ctx, WorkflowState{"input": "x"})
	var intr *WorkflowInterrupt
	if !errors.As(err, &intr) {
		t.Fatalf("first run error = %v, want WorkflowInterrupt", err)
	}

	second, err := NewFilePersistence(dir)
	if err != nil {
		t.Fatal(err)
	}
	w2 := approvalWorkflow(WithWorkflowID("release"), WithPersistence(second))
	out, err := w2.Resume(ctx, "approved")
	if err != nil {
		t.Fatal(err)
	}
	if out["approved"] != "approved" || out["published"] != true {
		t.Errorf("resumed state = %v", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); !os.IsNotExist(err) {
		t.Error("snapshot not deleted after resume")
	}
}
