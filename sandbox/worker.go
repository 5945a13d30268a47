package sandbox

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime"

	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/codec"
	"github.com/pcksafe/pcksafe/pickle"
)

// WorkerCommand is the hidden first argument that turns a binary into a
// decode worker.
const WorkerCommand = "__pcksafe_worker__"

// documentFactor bounds the JSON a worker writes, relative to the size
// limit of the pickle.
const documentFactor = 4

// descriptors handed to a worker
const (
	blobFD    = 3
	channelFD = 4
)

// IsWorker reports whether this process was started by an Executor.
func IsWorker() bool {
	return len(os.Args) > 1 && os.Args[1] == WorkerCommand
}

// RunWorker serves one decode request and returns the exit code.
func RunWorker() int {
	in := os.NewFile(blobFD, "blob")
	out := os.NewFile(channelFD, "channel")
	defer out.Close()

	return serve(os.Stdin, in, out, os.Stderr, confine)
}

type worker struct {
	req    Request
	logger *slog.Logger
	out    io.Writer
}

// serve is the worker body. confine is injected so the pipeline can be
// exercised without privileges.
func serve(stdin, in io.Reader, out, stderr io.Writer, confine func(*Request) *SetupError) int {
	// no_new_privs is per thread: the decode must run on the thread that
	// set it. The lock is held until the worker exits.
	runtime.LockOSThread()
	w := &worker{out: out}

	raw, err := io.ReadAll(io.LimitReader(stdin, maxRequest))
	if err == nil {
		err = decMode.Unmarshal(raw, &w.req)
	}
	w.logger = slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: w.req.level()})).
		With("session", w.req.Session)
	if err != nil {
		w.logger.Error("unreadable request", "error", err)
		return w.fail(&Failure{Kind: kindRequest, Message: err.Error()})
	}

	if serr := confine(&w.req); serr != nil {
		w.logger.Error("confinement failed", "step", serr.Step, "error", serr.Err)
		return w.fail(&Failure{Kind: kindSetup, Step: serr.Step, Message: serr.Err})
	}
	w.logger.Debug("confined", "uid", w.req.UID, "gid", w.req.GID)

	doc, f := w.convert(in)
	if f != nil {
		return w.fail(f)
	}
	if err := w.write(&Response{Document: doc}); err != nil {
		return 1
	}
	return 0
}

func (w *worker) convert(in io.Reader) ([]byte, *Failure) {
	data, err := blob.ReadAll(in, w.req.Limit)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, &Failure{Kind: kindTooLarge, Message: err.Error()}
		}
		return nil, &Failure{Kind: kindDecode, Message: err.Error()}
	}

	policy, err := pickle.NewPolicy(w.req.AllowList...)
	if err != nil {
		return nil, &Failure{Kind: kindRequest, Message: err.Error()}
	}

	graph, err := pickle.NewDecoder(policy).Unmarshal(data)
	if err != nil {
		var dc *pickle.DisallowedClassError
		if errors.As(err, &dc) {
			// the class name stays in the operator log
			w.logger.Error("refused class reference", "module", dc.Module, "name", dc.Name, "ref", dc.Ref)
			return nil, &Failure{Kind: kindDisallowed, Ref: dc.Ref}
		}
		w.logger.Warn("decode failed", "error", err)
		return nil, &Failure{Kind: kindDecode, Message: err.Error()}
	}

	graph = pickle.Sanitize(graph)
	if len(w.req.Keys) > 0 {
		if graph, err = pickle.Select(graph, w.req.Keys); err != nil {
			return nil, &Failure{Kind: kindMissingKey, Message: err.Error()}
		}
	}

	// memo references let a few bytes stand for a huge document
	doc, err := codec.EncodeLimit(graph, w.req.Limit)
	if err == nil {
		var js []byte
		if js, err = codec.MarshalLimit(doc, documentBudget(w.req.Limit)); err == nil {
			w.logger.Debug("decoded", "pickle_bytes", len(data), "json_bytes", len(js))
			return js, nil
		}
	}
	if errors.Is(err, codec.ErrTooLarge) {
		w.logger.Warn("document over budget", "error", err)
		return nil, &Failure{Kind: kindTooLarge, Message: err.Error()}
	}
	return nil, &Failure{Kind: kindEncode, Message: err.Error()}
}

func documentBudget(limit int64) int64 {
	if limit > math.MaxInt64/documentFactor {
		return math.MaxInt64
	}
	return limit * documentFactor
}

func (w *worker) fail(f *Failure) int {
	w.write(&Response{Failure: f})
	return 1
}

func (w *worker) write(resp *Response) error {
	b, err := encMode.Marshal(resp)
	if err != nil {
		w.logger.Error("encoding response", "error", err)
		return err
	}
	if _, err := w.out.Write(b); err != nil {
		w.logger.Error("writing response", "error", err)
		return err
	}
	return nil
}
