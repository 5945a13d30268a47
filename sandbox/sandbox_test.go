package sandbox

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcksafe/pcksafe/blob"
	"github.com/pcksafe/pcksafe/pickle"
)

// The test binary doubles as the worker.
func TestMain(m *testing.M) {
	if IsWorker() {
		os.Exit(RunWorker())
	}
	os.Exit(m.Run())
}

func listPickle(t testing.TB) []byte {
	t.Helper()
	b, err := (&pickle.Encoder{}).Marshal(pickle.DictOf(
		"real_name", "Test",
		"bounce_info", pickle.DictOf("a@example.com", &pickle.Instance{
			Class: pickle.Class{Module: "Mailman.Bouncer", Name: "_BounceInfo"},
			Args:  pickle.Tuple{},
			State: pickle.DictOf("score", 1.0),
		}),
		"cookie", "pending",
		"evictions", pickle.DictOf("cookie", int64(1)),
		"ids", pickle.Tuple{int64(1), int64(2)},
	))
	require.NoError(t, err)
	return b
}

const listJSON = `{"real_name":"Test","bounce_info":{},"evictions":{},"ids":{"__tuple__":2,"__items__":[1,2]}}`

func request(t testing.TB, req Request) *bytes.Reader {
	t.Helper()
	if req.AllowList == nil {
		req.AllowList = pickle.DefaultAllowList()
	}
	if req.Limit == 0 {
		req.Limit = 1 << 20
	}
	b, err := encMode.Marshal(&req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func unconfined(*Request) *SetupError { return nil }

func runServe(t *testing.T, req Request, data []byte, confine func(*Request) *SetupError) (Response, string, int) {
	t.Helper()
	var out, stderr bytes.Buffer
	code := serve(request(t, req), bytes.NewReader(data), &out, &stderr, confine)

	var resp Response
	require.NoError(t, decMode.Unmarshal(out.Bytes(), &resp), stderr.String())
	return resp, stderr.String(), code
}

func TestServe(t *testing.T) {
	resp, stderr, code := runServe(t, Request{Session: "s1"}, listPickle(t), unconfined)
	require.Equal(t, 0, code, stderr)
	require.Nil(t, resp.Failure)
	assert.Equal(t, listJSON, string(resp.Document))
	assert.NoError(t, resp.err())
}

func TestServeCompressed(t *testing.T) {
	comp, err := blob.Compress(blob.Zstd, listPickle(t))
	require.NoError(t, err)

	resp, _, code := runServe(t, Request{}, comp, unconfined)
	require.Equal(t, 0, code)
	assert.Equal(t, listJSON, string(resp.Document))
}

func TestServeKeys(t *testing.T) {
	resp, _, code := runServe(t, Request{Keys: []string{"ids", "real_name"}}, listPickle(t), unconfined)
	require.Equal(t, 0, code)
	assert.Equal(t, `{"ids":{"__tuple__":2,"__items__":[1,2]},"real_name":"Test"}`, string(resp.Document))

	resp, _, code = runServe(t, Request{Keys: []string{"owner"}}, listPickle(t), unconfined)
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, resp.err(), pickle.ErrMissingKey)
}

func TestServeDisallowedClass(t *testing.T) {
	resp, stderr, code := runServe(t, Request{Session: "s2"}, []byte("cposix\nsystem\n(S'id'\ntR."), unconfined)
	assert.Equal(t, 1, code)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, pickle.ClassRef("posix", "system"), resp.Failure.Ref)
	assert.Empty(t, resp.Failure.Message)

	err := resp.err()
	var dc *pickle.DisallowedClassError
	require.True(t, errors.As(err, &dc))
	assert.Empty(t, dc.Module)
	assert.Empty(t, dc.Name)
	assert.NotContains(t, err.Error(), "posix")

	// the operator log names the class
	assert.Contains(t, stderr, `"module":"posix"`)
	assert.Contains(t, stderr, `"session":"s2"`)
}

func TestServeSetupFailureSkipsDecode(t *testing.T) {
	failing := func(*Request) *SetupError {
		return &SetupError{Step: "setresuid", Err: "operation not permitted"}
	}
	var out, stderr bytes.Buffer
	code := serve(request(t, Request{}), readerFunc(func([]byte) (int, error) {
		t.Fatal("blob read after failed confinement")
		return 0, nil
	}), &out, &stderr, failing)
	assert.Equal(t, 1, code)

	var resp Response
	require.NoError(t, decMode.Unmarshal(out.Bytes(), &resp))
	err := resp.err()
	require.ErrorIs(t, err, ErrSetupFailed)
	var se *SetupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "setresuid", se.Step)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestServeDecompressedTooLarge(t *testing.T) {
	comp, err := blob.Compress(blob.Zlib, bytes.Repeat([]byte{0}, 64<<10))
	require.NoError(t, err)

	resp, _, code := runServe(t, Request{Limit: 1 << 10}, comp, unconfined)
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, resp.err(), blob.ErrTooLarge)
}

func TestServeSharedGraphOverBudget(t *testing.T) {
	// each level holds the previous one twice through the memo
	chain := []byte("\x80\x02K\x01q\x00")
	for i := 0; i < 60; i++ {
		chain = append(chain, 'h', byte(i), 'h', byte(i), 0x86, 'q', byte(i+1))
	}
	chain = append(chain, '.')

	start := time.Now()
	resp, _, code := runServe(t, Request{Limit: 1 << 20}, chain, unconfined)
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, resp.err(), blob.ErrTooLarge)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDocumentBudget(t *testing.T) {
	assert.Equal(t, int64(4<<20), documentBudget(1<<20))
	assert.Equal(t, int64(math.MaxInt64), documentBudget(1<<62))
}

func TestServeCorruptAndUnrepresentable(t *testing.T) {
	resp, _, _ := runServe(t, Request{}, []byte("\x80\x02}U\x05ab"), unconfined)
	assert.ErrorIs(t, resp.err(), ErrDecodeFailed)

	inst, err := (&pickle.Encoder{}).Marshal(pickle.DictOf("u", &pickle.Instance{
		Class: pickle.Class{Module: "Mailman.UserDesc", Name: "UserDesc"},
	}))
	require.NoError(t, err)
	resp, _, _ = runServe(t, Request{}, inst, unconfined)
	var we *WorkerError
	require.True(t, errors.As(resp.err(), &we))
	assert.Equal(t, kindEncode, we.Kind)
}

func TestServeBadRequest(t *testing.T) {
	var out, stderr bytes.Buffer
	code := serve(strings.NewReader("not cbor"), bytes.NewReader(nil), &out, &stderr, unconfined)
	assert.Equal(t, 1, code)

	var resp Response
	require.NoError(t, decMode.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Failure)
	assert.Equal(t, kindRequest, resp.Failure.Kind)
}

func TestResponseErr(t *testing.T) {
	assert.ErrorIs(t, (&Response{}).err(), ErrEmptyResult)
	assert.NoError(t, (&Response{Document: []byte("{}")}).err())
	assert.ErrorIs(t, (&Response{Failure: &Failure{Kind: kindDisallowed}}).err(), ErrBadResponse)
	assert.ErrorIs(t, (&Response{Failure: &Failure{Kind: kindDisallowed, Ref: "00"}}).err(), pickle.ErrDisallowedClass)
	assert.ErrorIs(t, (&Response{Failure: &Failure{Kind: kindSetup, Step: "chroot"}}).err(), ErrSetupFailed)
}

func writeBlob(t *testing.T, data []byte) *blob.Blob {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.pck")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	b, err := blob.Open(path, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func newExecutor(t *testing.T, config Config) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	config.TempDir = dir
	if config.Policy == nil {
		p, err := pickle.NewPolicy(pickle.DefaultAllowList()...)
		require.NoError(t, err)
		config.Policy = p
	}
	if config.Stderr == nil {
		config.Stderr = &bytes.Buffer{}
	}
	e, err := New(config)
	require.NoError(t, err)
	return e, dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "isolated root left behind")
}

var nobody = Identity{Name: "nobody", UID: 65534, GID: 65534}

func TestExecutorRefusesRoot(t *testing.T) {
	e, dir := newExecutor(t, Config{})
	_, err := e.Decode(context.Background(), writeBlob(t, listPickle(t)), Identity{Name: "root"}, Options{Limit: 1 << 20})
	require.ErrorIs(t, err, ErrSetupFailed)
	assertEmptyDir(t, dir)
}

func TestExecutorUnprivileged(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("needs an unprivileged parent")
	}
	e, dir := newExecutor(t, Config{})

	_, err := e.Decode(context.Background(), writeBlob(t, listPickle(t)), nobody, Options{Limit: 1 << 20})
	require.ErrorIs(t, err, ErrSetupFailed)
	var se *SetupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "chroot", se.Step)
	assertEmptyDir(t, dir)
}

func TestExecutorPrivileged(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("needs root to chroot and drop privileges")
	}
	id, err := UserResolver{}.Resolve("nobody")
	if err != nil {
		id = nobody
	}
	e, dir := newExecutor(t, Config{Timeout: time.Minute})

	doc, err := e.Decode(context.Background(), writeBlob(t, listPickle(t)), id, Options{Limit: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, listJSON, string(doc))
	assertEmptyDir(t, dir)

	_, err = e.Decode(context.Background(), writeBlob(t, []byte("cos\nsystem\n.")), id, Options{Limit: 1 << 20})
	assert.ErrorIs(t, err, pickle.ErrDisallowedClass)
	assertEmptyDir(t, dir)
}

func TestExecutorEmptyResult(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("no /bin/true")
	}
	e, dir := newExecutor(t, Config{WorkerPath: "/bin/true"})

	_, err := e.Decode(context.Background(), writeBlob(t, listPickle(t)), nobody, Options{Limit: 1 << 20})
	assert.ErrorIs(t, err, ErrEmptyResult)
	assertEmptyDir(t, dir)
}

func TestExecutorTimeout(t *testing.T) {
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("no /bin/sleep")
	}
	script := filepath.Join(t.TempDir(), "wedged")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec /bin/sleep 30\n"), 0o755))
	e, dir := newExecutor(t, Config{WorkerPath: script, Timeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := e.Decode(context.Background(), writeBlob(t, listPickle(t)), nobody, Options{Limit: 1 << 20})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 20*time.Second)
	assertEmptyDir(t, dir)
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"mailman": {UID: 41, GID: 41}}
	id, err := r.Resolve("mailman")
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "mailman", UID: 41, GID: 41}, id)

	_, err = r.Resolve("nobody-here")
	assert.Error(t, err)
}
