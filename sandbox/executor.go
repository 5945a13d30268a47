package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/pickle"
)

// Config holds configuration for creating a new Executor.
type Config struct {
	// Policy lists the class references workers may resolve. Nil allows
	// none.
	Policy *pickle.Policy

	// WorkerPath is the binary started as worker. Defaults to the running
	// executable, which must call RunWorker (see the package docs).
	WorkerPath string

	// TempDir is where isolated roots are created. Defaults to
	// os.TempDir().
	TempDir string

	// Timeout bounds a single decode. Zero waits for the worker
	// indefinitely.
	Timeout time.Duration

	// Stderr receives the worker's log lines. Defaults to os.Stderr.
	Stderr io.Writer

	// Logger for executor operations.
	Logger *slog.Logger
}

// Executor runs decodes in confined workers. It holds no per-decode state
// and is safe for concurrent use.
type Executor struct {
	policy     *pickle.Policy
	workerPath string
	tempDir    string
	timeout    time.Duration
	stderr     io.Writer
	logger     *slog.Logger
}

// Options are the per-decode parameters.
type Options struct {
	// Limit caps the decompressed pickle.
	Limit int64

	// Keys, when set, restricts the document to these top-level keys.
	Keys []string
}

// New creates a new Executor.
func New(config Config) (*Executor, error) {
	workerPath := config.WorkerPath
	if workerPath == "" {
		var err error
		if workerPath, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("sandbox: locating worker binary: %w", err)
		}
	}

	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		policy:     config.Policy,
		workerPath: workerPath,
		tempDir:    config.TempDir,
		timeout:    config.Timeout,
		stderr:     stderr,
		logger:     logger,
	}, nil
}

// Decode converts b into a JSON document inside a worker running as id.
// The isolated root is removed before Decode returns, whatever the
// outcome. Nothing is retried.
func (e *Executor) Decode(ctx context.Context, b *blob.Blob, id Identity, opts Options) ([]byte, error) {
	if id.UID == 0 || id.GID == 0 {
		return nil, &SetupError{Step: "identity", Err: fmt.Sprintf("refusing to decode as %s", id)}
	}
	if opts.Limit <= 0 {
		return nil, blob.ErrBadLimit
	}

	session := uuid.NewString()
	logger := e.logger.With("session", session, "path", b.Path, "owner", id.Name)

	root, err := os.MkdirTemp(e.tempDir, "pcksafe-")
	if err != nil {
		return nil, &SetupError{Step: "mkdir", Err: err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			logger.Error("removing isolated root", "root", root, "error", err)
		}
	}()
	// MkdirTemp already uses 0700; make it independent of the umask
	if err := os.Chmod(root, 0o700); err != nil {
		return nil, &SetupError{Step: "mkdir", Err: err.Error()}
	}

	req, err := encMode.Marshal(&Request{
		Session:   session,
		Root:      root,
		UID:       id.UID,
		GID:       id.GID,
		AllowList: e.policy.References(),
		Limit:     opts.Limit,
		Keys:      opts.Keys,
		LogLevel:  e.workerLevel(ctx).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: encoding request: %w", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SetupError{Step: "pipe", Err: err.Error()}
	}
	defer pr.Close()

	cmd := exec.CommandContext(ctx, e.workerPath, WorkerCommand)
	cmd.Env = []string{}
	cmd.Dir = "/"
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stderr = e.stderr
	cmd.ExtraFiles = []*os.File{b.File, pw}
	cmd.SysProcAttr = sysProcAttr()

	start := time.Now()
	logger.Debug("starting worker", "root", root, "worker", e.workerPath)
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, &SetupError{Step: "spawn", Err: err.Error()}
	}
	// the worker holds the only write end now, so EOF means it is gone
	pw.Close()

	out, readErr := io.ReadAll(pr)
	waitErr := cmd.Wait()

	logger.Debug("worker finished", "elapsed", time.Since(start), "bytes", len(out), "wait", waitErr)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("sandbox: worker killed: %w", ctxErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("sandbox: reading worker channel: %w", readErr)
	}
	if len(out) == 0 {
		if waitErr != nil {
			return nil, fmt.Errorf("%w: worker %v", ErrEmptyResult, waitErr)
		}
		return nil, ErrEmptyResult
	}

	var resp Response
	if err := decMode.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if err := resp.err(); err != nil {
		var se *SetupError
		if errors.As(err, &se) {
			logger.Error("worker confinement failed", "step", se.Step, "error", se.Err)
		}
		return nil, err
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: worker sent a document but %v", ErrBadResponse, waitErr)
	}

	return resp.Document, nil
}

func (e *Executor) workerLevel(ctx context.Context) slog.Level {
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
