package memory

import (
	"fmt"
	"os"
	"time"

	"github.com/driftwood/memcore/pkg/recall"
	"github.com/driftwood/memcore/pkg/vecstore"
	"github.com/goccy/go-yaml"
)

// CompressorBackend names which LLM backend a deployment's compressor should
// use. It is informational: FileConfig only records the choice, the caller
// still constructs the actual [Compressor] (which needs a live API client)
// and passes it via [HostConfig.Compressor].
type CompressorBackend string

const (
	CompressorBackendNone   CompressorBackend = ""
	CompressorBackendOpenAI CompressorBackend = "openai"
	CompressorBackendGemini CompressorBackend = "gemini"
)

// BucketFunc maps a span of wall-clock time to the coarsest bucket it should
// be compacted into. [recall.BucketForSpan] is the built-in default;
// deployments that want a different hierarchy register their own under a
// name and select it by name in the config file.
type BucketFunc func(time.Duration) recall.Bucket

var bucketFuncRegistry = map[string]BucketFunc{
	"default": recall.BucketForSpan,
}

// RegisterBucketFunc makes a named [BucketFunc] selectable from config files
// via FileConfig.BucketFunc. Intended for init-time registration before any
// config is loaded.
func RegisterBucketFunc(name string, fn BucketFunc) {
	bucketFuncRegistry[name] = fn
}

// VectorConfig selects and configures the vector backend.
type VectorConfig struct {
	// Backend is "memory" (brute-force, default) or "hnsw".
	Backend string `yaml:"backend"`

	// HNSW configures the HNSW backend. Dim is overwritten by
	// [VectorConfig.Build] to match the embedder in use; any value set
	// here is ignored.
	HNSW vecstore.HNSWConfig `yaml:"hnsw"`
}

// Build constructs the configured vector index for the given embedding
// dimension. A zero-value VectorConfig builds the brute-force backend.
func (vc VectorConfig) Build(dim int) (vecstore.Index, error) {
	switch vc.Backend {
	case "", "memory":
		return vecstore.NewMemory(), nil
	case "hnsw":
		cfg := vc.HNSW
		cfg.Dim = dim
		return vecstore.NewHNSW(cfg), nil
	default:
		return nil, fmt.Errorf("memory: unknown vector backend %q", vc.Backend)
	}
}

// FileConfig is the YAML-serializable subset of host configuration: the
// policies and backend selections that are static per deployment.
// Collaborators that are live objects (the KV store, embedder, compressor
// client, vector index) are still constructed and wired in Go code — a
// config file describes policy, not an object graph.
type FileConfig struct {
	// Separator is a single character used as the KV key separator.
	// Empty means [kv.DefaultSeparator]. Non-printable separators (e.g.
	// "") must be written as a YAML unicode escape.
	Separator string `yaml:"separator"`

	CompressPolicy    CompressPolicy    `yaml:"compress_policy"`
	CompressorBackend CompressorBackend `yaml:"compressor_backend"`

	// BucketFunc names an entry in the bucket function registry
	// (see [RegisterBucketFunc]). Empty means "default".
	BucketFunc string `yaml:"bucket_func"`

	Vector VectorConfig `yaml:"vector"`
}

// LoadFileConfig reads and parses a YAML deployment config.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read config %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("memory: parse config %s: %w", path, err)
	}
	return &fc, nil
}

// ResolveSeparator returns the configured separator byte, or 0
// ([kv.DefaultSeparator]) if unset.
func (fc *FileConfig) ResolveSeparator() (byte, error) {
	if fc.Separator == "" {
		return 0, nil
	}
	r := []rune(fc.Separator)
	if len(r) != 1 {
		return 0, fmt.Errorf("memory: separator must be exactly one character, got %q", fc.Separator)
	}
	if r[0] > 0xFF {
		return 0, fmt.Errorf("memory: separator %q is not a single byte", fc.Separator)
	}
	return byte(r[0]), nil
}

// ResolveBucketFunc looks up the named bucket function, defaulting to
// "default" ([recall.BucketForSpan]) when unset.
func (fc *FileConfig) ResolveBucketFunc() (BucketFunc, error) {
	name := fc.BucketFunc
	if name == "" {
		name = "default"
	}
	fn, ok := bucketFuncRegistry[name]
	if !ok {
		return nil, fmt.Errorf("memory: unknown bucket function %q", name)
	}
	return fn, nil
}

// LoadHostConfig loads a [FileConfig] from path and returns a [HostConfig]
// with its Separator, CompressPolicy and BucketFunc populated. The caller must
// still set Store, Vec, Embedder, and Compressor before passing the result to
// [NewHost] — use [LoadFileConfig] directly to also read CompressorBackend
// and Vector, which have no corresponding HostConfig field.
func LoadHostConfig(path string) (HostConfig, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return HostConfig{}, err
	}

	sep, err := fc.ResolveSeparator()
	if err != nil {
		return HostConfig{}, err
	}

	bucketFunc, err := fc.ResolveBucketFunc()
	if err != nil {
		return HostConfig{}, err
	}

	return HostConfig{
		Separator:      sep,
		CompressPolicy: fc.CompressPolicy,
		BucketFunc:     bucketFunc,
	}, nil
}
