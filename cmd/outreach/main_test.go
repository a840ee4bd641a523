package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{"storage":{"driver":"file","path":"`+dir+`"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"campaign":{"timezone":"Nowhere/Land"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	// A missing --env-file is an error only when asked for explicitly.
	if _, err := runCLI(t, "check-config", "--config", good); err == nil {
		t.Fatal("expected error for missing env file")
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check-config", "--config", good})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check-config error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "config ok") {
		t.Fatalf("output = %q", out.String())
	}

	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check-config", "--config", bad})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "timezone") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}

func TestInspectEmptyStore(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(`{"storage":{"driver":"file","path":"`+filepath.Join(dir, "data")+`"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"inspect", "--config", p})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("inspect error: %v", err)
	}
	var rep struct {
		Status struct {
			Contacts int `json:"contacts"`
		} `json:"status"`
		Snapshot json.RawMessage `json:"snapshot"`
	}
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v (%s)", err, out.String())
	}
	if rep.Status.Contacts != 0 || len(rep.Snapshot) == 0 {
		t.Fatalf("report = %s", out.String())
	}
}
