package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLines(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunASR(t *testing.T) {
	dir := t.TempDir()
	ref := writeLines(t, dir, "ref.txt", "hello how are you\n")
	hyp := writeLines(t, dir, "hyp.txt", "hello who are you\n")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"asr", "-ref", ref, "-hyp", hyp}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "ASR WER: 0.2500" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRunMT(t *testing.T) {
	dir := t.TempDir()
	ref := writeLines(t, dir, "ref.txt", "the quick brown fox jumps\n")
	hyp := writeLines(t, dir, "hyp.txt", "the quick brown fox jumps\n")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"mt", "-ref", ref, "-hyp", hyp}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "MT BLEU: 100.00" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 without args, got %d", code)
	}
	if code := run([]string{"bleu"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if code := run([]string{"asr", "-ref", filepath.Join(t.TempDir(), "none.txt")}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for missing file, got %d", code)
	}
	stdout.Reset()
	if code := run([]string{"version"}, &stdout, &stderr); code != 0 || strings.TrimSpace(stdout.String()) != version {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}
