package pcksafe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/codec"
	"github.com/pcksafe/pcksafe/config"
	"github.com/pcksafe/pcksafe/pickle"
	"github.com/pcksafe/pcksafe/sandbox"
)

// Options holds configuration for creating a new Converter.
type Options struct {
	// Config supplies the defaults for owner, size limit, allow-list,
	// export keys and sandbox settings. Nil means config.Default().
	Config *config.Config

	// Resolver maps owner names to identities. Defaults to the system
	// user database.
	Resolver sandbox.IdentityResolver

	// WorkerPath overrides the worker binary (see sandbox.Config).
	WorkerPath string

	// Stderr receives worker log lines. Defaults to os.Stderr.
	Stderr io.Writer

	// Logger for conversion operations.
	Logger *slog.Logger
}

// Converter converts list configurations. It is safe for concurrent use;
// every decode gets its own worker and isolated root.
type Converter struct {
	cfg      *config.Config
	resolver sandbox.IdentityResolver
	executor *sandbox.Executor
	logger   *slog.Logger
}

// New creates a new Converter.
func New(opts Options) (*Converter, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pcksafe: %w", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("pcksafe: %w", err)
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = sandbox.UserResolver{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor, err := sandbox.New(sandbox.Config{
		Policy:     policy,
		WorkerPath: opts.WorkerPath,
		TempDir:    cfg.TempDir,
		Timeout:    cfg.Timeout,
		Stderr:     opts.Stderr,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Converter{
		cfg:      cfg,
		resolver: resolver,
		executor: executor,
		logger:   logger,
	}, nil
}

// Decode converts the pickle at path into a JSON document, decoding as
// owner with the blob capped at limit bytes. An empty owner or a zero
// limit takes the configured value.
func (c *Converter) Decode(ctx context.Context, path, owner string, limit int64) ([]byte, error) {
	return c.DecodeKeys(ctx, path, owner, limit, nil)
}

// DecodeKeys is Decode restricted to the given top-level keys, in that
// order. A key missing from the configuration fails the decode.
func (c *Converter) DecodeKeys(ctx context.Context, path, owner string, limit int64, keys []string) (doc []byte, err error) {
	if owner == "" {
		owner = c.cfg.Owner
	}
	if limit == 0 {
		limit = int64(c.cfg.SizeLimit)
	}

	emitDecodeStart(ctx, path, owner)
	start := time.Now()
	defer func() {
		emitDecodeComplete(ctx, path, owner, len(doc), time.Since(start), err)
	}()

	b, err := blob.Open(path, limit)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	id, err := c.resolver.Resolve(owner)
	if err != nil {
		return nil, &sandbox.SetupError{Step: "identity", Err: err.Error()}
	}

	return c.executor.Decode(ctx, b, id, sandbox.Options{Limit: limit, Keys: keys})
}

// Encode converts a JSON (or JSONC) document into a protocol 2 pickle. It
// runs in the calling process: the input is data, never code.
func (c *Converter) Encode(ctx context.Context, document []byte) (out []byte, err error) {
	start := time.Now()
	defer func() {
		emitEncodeComplete(ctx, len(out), time.Since(start), err)
	}()

	doc, err := codec.Unmarshal(document)
	if err != nil {
		if !errors.Is(err, codec.ErrMalformedDocument) {
			err = fmt.Errorf("%w: %w", codec.ErrMalformedDocument, err)
		}
		return nil, err
	}
	graph, err := codec.Decode(doc)
	if err != nil {
		return nil, err
	}
	out, err = (&pickle.Encoder{}).Marshal(graph)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrMalformedDocument, err)
	}
	return out, nil
}

// ExportKeys decodes each path with the configured export keys and returns
// one document per line, in the order of paths. A blob that fails leaves an
// empty line and is logged. The error is non-nil only when ctx ends before
// every path was tried.
func (c *Converter) ExportKeys(ctx context.Context, paths []string, owner string, limit int64) ([]byte, error) {
	m := NewMerger()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return m.Finish(), err
		}
		doc, err := c.DecodeKeys(ctx, path, owner, limit, c.cfg.ExportKeys)
		if err == nil {
			err = m.Append(doc)
		}
		if err != nil {
			c.logger.Error("failed to export keys", "path", path, "error", err)
			m.AppendFailure()
		}
	}
	if m.Failed() > 0 {
		c.logger.Warn("export finished with failures", "failed", m.Failed(), "total", m.Lines())
	}
	return m.Finish(), nil
}

// ListConfigPath returns the configuration blob of list under the
// configured lists directory.
func (c *Converter) ListConfigPath(list string) (string, error) {
	return ListConfigPath(c.cfg.ListsDir, list)
}
