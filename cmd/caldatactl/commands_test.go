package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage"
	"github.com/xtxerr/caldata/internal/storage/config"
	"github.com/xtxerr/caldata/internal/storage/types"
	"github.com/xtxerr/caldata/internal/testutil"
)

func openTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Index.DSN = ":memory:"
	cfg.Blob.SyncMode = "async"

	e, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func runCommand(t *testing.T, e *storage.Engine, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := dispatch(e, &buf, args)
	return buf.String(), err
}

func TestDocumentRoundTrip(t *testing.T) {
	for _, sol := range []types.Solution{
		testutil.MakeGainSolution(2),
		testutil.MakeBandpassSolution(2),
		testutil.MakeLeakageSolution(2),
	} {
		t.Run(sol.Type().String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sol.yaml")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := writeYAML(f, toDocument(7, sol)); err != nil {
				t.Fatalf("writeYAML: %v", err)
			}
			f.Close()

			doc, err := readDocument(path)
			if err != nil {
				t.Fatalf("readDocument: %v", err)
			}
			if doc.ID != 7 {
				t.Errorf("ID = %d, want 7", doc.ID)
			}
			got, err := doc.solution(sol.Type())
			if err != nil {
				t.Fatalf("solution: %v", err)
			}
			if err := testutil.EqualSolutions(sol, got); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  solutionDoc
		want types.SolutionType
	}{
		{"type mismatch", solutionDoc{Type: "gain"}, types.SolutionLeakage},
		{"unknown type", solutionDoc{Type: "phase"}, types.SolutionGain},
		{"missing gain", solutionDoc{Entries: []entryDoc{{Antenna: 1}}}, types.SolutionGain},
		{"missing leakage", solutionDoc{Entries: []entryDoc{{Antenna: 1}}}, types.SolutionLeakage},
		{"duplicate entry", solutionDoc{Entries: []entryDoc{
			{Antenna: 1, Beam: 2, Channels: []jtermDoc{{}}},
			{Antenna: 1, Beam: 2},
		}}, types.SolutionBandpass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.doc.solution(tt.want); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCommands(t *testing.T) {
	e := openTestEngine(t)

	if _, err := runCommand(t, e, "latest"); !errors.IsUnknownSolution(err) {
		t.Errorf("latest on empty store error = %v", err)
	}

	out, err := runCommand(t, e, "newid")
	if err != nil || strings.TrimSpace(out) != "1" {
		t.Fatalf("newid = %q, %v", out, err)
	}

	path := filepath.Join(t.TempDir(), "gain.yaml")
	f, _ := os.Create(path)
	writeYAML(f, toDocument(0, testutil.MakeGainSolution(3)))
	f.Close()

	if out, err := runCommand(t, e, "add", "gain", "1", path); err != nil || !strings.Contains(out, "1/g") {
		t.Fatalf("add = %q, %v", out, err)
	}
	if _, err := runCommand(t, e, "add", "gain", "1", path); exitCode(err) != 4 {
		t.Errorf("second add error = %v, want exit code 4", err)
	}

	if out, _ := runCommand(t, e, "has", "g", "1"); strings.TrimSpace(out) != "true" {
		t.Errorf("has = %q", out)
	}
	if out, _ := runCommand(t, e, "has", "leakage", "1"); strings.TrimSpace(out) != "false" {
		t.Errorf("has leakage = %q", out)
	}
	if out, err := runCommand(t, e, "upper", "2.5"); err != nil || strings.TrimSpace(out) != "1" {
		t.Errorf("upper = %q, %v", out, err)
	}
	if _, err := runCommand(t, e, "lower", "2.5"); exitCode(err) != 3 {
		t.Errorf("lower error = %v, want exit code 3", err)
	}

	out, err = runCommand(t, e, "get", "gain", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "type: gain") || !strings.Contains(out, "g1_valid") {
		t.Errorf("get output missing fields:\n%s", out)
	}

	if _, err := runCommand(t, e, "adjust", "gain", "1", path); exitCode(err) != 5 {
		t.Errorf("adjust error = %v, want exit code 5", err)
	}

	if out, err := runCommand(t, e, "records"); err != nil || !strings.Contains(out, "1:0+") {
		t.Errorf("records = %q, %v", out, err)
	}
	if out, err := runCommand(t, e, "files"); err != nil || !strings.Contains(out, "current") {
		t.Errorf("files = %q, %v", out, err)
	}
	if out, err := runCommand(t, e, "stats"); err != nil || !strings.Contains(out, "solutions: 1") {
		t.Errorf("stats = %q, %v", out, err)
	}

	export := filepath.Join(t.TempDir(), "catalog.parquet")
	if out, err := runCommand(t, e, "export", export); err != nil || !strings.Contains(out, "exported 1 records") {
		t.Errorf("export = %q, %v", out, err)
	}
}

func TestGetMany(t *testing.T) {
	e := openTestEngine(t)
	for id := int64(1); id <= 3; id++ {
		if err := e.AddLeakageSolution(id, testutil.MakeLeakageSolution(int(id))); err != nil {
			t.Fatal(err)
		}
	}

	out, err := runCommand(t, e, "get", "leakage", "3", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	docs := strings.Split(out, "---")
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2:\n%s", len(docs), out)
	}
	if !strings.Contains(docs[0], "id: 3") || !strings.Contains(docs[1], "id: 1") {
		t.Errorf("documents out of order:\n%s", out)
	}
}

func TestDispatchUsage(t *testing.T) {
	e := openTestEngine(t)

	tests := [][]string{
		{"bogus"},
		{"shell"},
		{"has", "gain"},
		{"upper", "1", "2"},
		{"upper", "soon"},
		{"has", "phase", "1"},
		{"get", "gain", "x"},
		{"archive", "one"},
	}
	for _, args := range tests {
		if _, err := runCommand(t, e, args...); err == nil {
			t.Errorf("dispatch(%q) succeeded, want error", args)
		}
	}
}

func TestComplete(t *testing.T) {
	suggest := func(text string) []string {
		b := prompt.NewBuffer()
		b.InsertText(text, false, true)
		var out []string
		for _, s := range complete(*b.Document()) {
			out = append(out, s.Text)
		}
		return out
	}

	if got := suggest("ne"); len(got) != 1 || got[0] != "newid" {
		t.Errorf("complete(ne) = %v", got)
	}
	if got := suggest("get b"); len(got) != 1 || got[0] != "bandpass" {
		t.Errorf("complete(get b) = %v", got)
	}
	if got := suggest("get gain 1 "); len(got) != 0 {
		t.Errorf("complete after id = %v", got)
	}
	if got := suggest("export "); len(got) != 0 {
		t.Errorf("complete(export) = %v", got)
	}
}
