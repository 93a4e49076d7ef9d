package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftwood/memcore/pkg/recall"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, `
separator: ":"
compressor_backend: gemini
bucket_func: default
vector:
  backend: hnsw
  hnsw:
    m: 16
`)

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if fc.Separator != ":" {
		t.Errorf("Separator = %q, want %q", fc.Separator, ":")
	}
	if fc.CompressorBackend != CompressorBackendGemini {
		t.Errorf("CompressorBackend = %q, want %q", fc.CompressorBackend, CompressorBackendGemini)
	}
	if fc.Vector.Backend != "hnsw" {
		t.Errorf("Vector.Backend = %q, want hnsw", fc.Vector.Backend)
	}
}

func TestFileConfig_ResolveSeparator(t *testing.T) {
	cases := []struct {
		sep     string
		want    byte
		wantErr bool
	}{
		{"", 0, false},
		{":", ':', false},
		{"\x1f", 0x1f, false},
		{"ab", 0, true},
	}
	for _, c := range cases {
		fc := &FileConfig{Separator: c.sep}
		got, err := fc.ResolveSeparator()
		if c.wantErr {
			if err == nil {
				t.Errorf("ResolveSeparator(%q): expected error, got nil", c.sep)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveSeparator(%q): %v", c.sep, err)
			continue
		}
		if got != c.want {
			t.Errorf("ResolveSeparator(%q) = %v, want %v", c.sep, got, c.want)
		}
	}
}

func TestFileConfig_ResolveBucketFunc(t *testing.T) {
	fc := &FileConfig{}
	fn, err := fc.ResolveBucketFunc()
	if err != nil {
		t.Fatalf("ResolveBucketFunc: %v", err)
	}
	if fn == nil {
		t.Fatal("ResolveBucketFunc returned nil func")
	}

	fc = &FileConfig{BucketFunc: "unknown"}
	if _, err := fc.ResolveBucketFunc(); err == nil {
		t.Fatal("ResolveBucketFunc(unknown): expected error, got nil")
	}

	RegisterBucketFunc("custom", func(time.Duration) recall.Bucket { return recall.Bucket1D })
	fc = &FileConfig{BucketFunc: "custom"}
	fn, err = fc.ResolveBucketFunc()
	if err != nil {
		t.Fatalf("ResolveBucketFunc(custom): %v", err)
	}
	if got := fn(0); got != recall.Bucket1D {
		t.Errorf("custom bucket func = %v, want %v", got, recall.Bucket1D)
	}
}

func TestVectorConfig_Build(t *testing.T) {
	vc := VectorConfig{}
	idx, err := vc.Build(8)
	if err != nil {
		t.Fatalf("Build memory: %v", err)
	}
	if idx == nil {
		t.Fatal("Build memory: nil index")
	}

	vc = VectorConfig{Backend: "hnsw"}
	idx, err = vc.Build(8)
	if err != nil {
		t.Fatalf("Build hnsw: %v", err)
	}
	if idx == nil {
		t.Fatal("Build hnsw: nil index")
	}

	vc = VectorConfig{Backend: "bogus"}
	if _, err := vc.Build(8); err == nil {
		t.Fatal("Build bogus: expected error, got nil")
	}
}
