package digest

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	errpkg "github.com/veranemoloko/model-downloader/internal/errors"
	"github.com/veranemoloko/model-downloader/internal/metrics"
)

const (
	// SHA256 is the only supported digest algorithm.
	SHA256 = "sha256"

	// DefaultChunkSize is the read size used when none is configured.
	DefaultChunkSize = 8 << 20
)

var algorithms = map[string]crypto.Hash{
	SHA256: crypto.SHA256,
}

// Result is a computed digest together with the algorithm that produced it.
type Result struct {
	Algorithm string
	sum       []byte
}

// Sum returns a copy of the digest bytes.
func (r Result) Sum() []byte {
	return append([]byte(nil), r.sum...)
}

// Hex returns the lowercase hexadecimal encoding of the digest.
func (r Result) Hex() string {
	return hex.EncodeToString(r.sum)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithChunkSize sets the number of bytes read per chunk. Non-positive sizes are ignored.
func WithChunkSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.chunkSize = n
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// Verifier computes file digests in constant memory.
// It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	algorithm string
	chunkSize int
	logger    *slog.Logger
}

// New creates a Verifier for the named algorithm. An unusable algorithm is
// reported by ComputeDigest.
func New(algorithm string, opts ...Option) *Verifier {
	v := &Verifier{
		algorithm: strings.ToLower(algorithm),
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Supported reports whether the runtime can instantiate the named algorithm.
func Supported(algorithm string) error {
	_, err := newHash(strings.ToLower(algorithm))
	return err
}

// Algorithm returns the configured algorithm name.
func (v *Verifier) Algorithm() string {
	return v.algorithm
}

// ComputeDigest streams the file at path through the digest accumulator.
// It returns an error of kind NotFound, IOFailure or AlgorithmUnavailable and
// never a partial result.
func (v *Verifier) ComputeDigest(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res, n, err := v.compute(ctx, path)
	metrics.DigestComputations.Inc()
	if err != nil {
		metrics.DigestFailures.Inc()
		return Result{}, err
	}

	metrics.DigestDuration.Observe(time.Since(start).Seconds())
	metrics.DigestBytes.Add(float64(n))
	v.logger.Debug("digest computed", "path", path, "algorithm", v.algorithm, "bytes", n, "duration", time.Since(start))
	return res, nil
}

// Verify computes the digest of path and compares it with expected, a hex string.
func (v *Verifier) Verify(ctx context.Context, path, expected string) (Result, error) {
	res, err := v.ComputeDigest(ctx, path)
	if err != nil {
		return Result{}, err
	}

	if actual := res.Hex(); actual != strings.ToLower(expected) {
		return res, errpkg.New(errpkg.ErrChecksumMismatch, fmt.Sprintf("expected %s, got %s", strings.ToLower(expected), actual), nil)
	}
	return res, nil
}

func (v *Verifier) compute(ctx context.Context, path string) (Result, int64, error) {
	h, err := newHash(v.algorithm)
	if err != nil {
		return Result{}, 0, err
	}

	file, err := openRegular(path)
	if err != nil {
		return Result{}, 0, err
	}
	defer file.Close()

	return v.accumulate(ctx, h, file, path)
}

// accumulate feeds r into h in chunkSize reads. Any read error other than
// end of input is reported as IOFailure and discards the partial state.
func (v *Verifier) accumulate(ctx context.Context, h hash.Hash, r io.Reader, name string) (Result, int64, error) {
	buf := make([]byte, v.chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, 0, errpkg.New(errpkg.ErrIOFailure, "read "+name, err)
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return Result{}, 0, errpkg.New(errpkg.ErrIOFailure, "read "+name, err)
		}
	}

	return Result{Algorithm: v.algorithm, sum: h.Sum(nil)}, total, nil
}

func openRegular(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, errpkg.New(errpkg.ErrNotFound, "open "+path, err)
		}
		return nil, errpkg.New(errpkg.ErrIOFailure, "open "+path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errpkg.New(errpkg.ErrIOFailure, "stat "+path, err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, errpkg.New(errpkg.ErrNotFound, path+" is not a regular file", nil)
	}
	return file, nil
}

func newHash(algorithm string) (hash.Hash, error) {
	id, ok := algorithms[algorithm]
	if !ok {
		return nil, errpkg.New(errpkg.ErrAlgorithmUnavailable, fmt.Sprintf("unknown algorithm %q", algorithm), nil)
	}
	if !id.Available() {
		return nil, errpkg.New(errpkg.ErrAlgorithmUnavailable, fmt.Sprintf("algorithm %q is not linked into the binary", algorithm), nil)
	}
	return id.New(), nil
}

var defaultVerifier = New(SHA256)

// HexDigest computes the SHA-256 digest of path with the default chunk size.
func HexDigest(ctx context.Context, path string) (string, error) {
	res, err := defaultVerifier.ComputeDigest(ctx, path)
	if err != nil {
		return "", err
	}
	return res.Hex(), nil
}
