// Package sandbox decodes untrusted pickles in a confined worker process.
//
// The Executor runs in the caller's process. For each decode it creates an
// empty private directory, a pipe and a worker: the same binary re-executed
// with WorkerCommand as its first argument. The worker gets the already
// opened blob as fd 3, the write end of the pipe as fd 4 and a CBOR Request
// on stdin. It changes its root to the directory, drops to the target user
// and only then decodes:
//
//	chroot(root)  chdir("/")  prctl(PR_SET_NO_NEW_PRIVS)
//	setgroups([])  setresgid(g, g, g)  setresuid(u, u, u)
//
// followed by a check that none of the old identity is left and that
// setuid(0) fails. The id changes apply to every thread of the worker, but
// no_new_privs is set on one thread only; the worker stays locked to that
// thread until it exits, so the decode always runs under the flag. If any step fails the worker reports the step and exits
// without reading the blob. Otherwise it writes one CBOR Response holding
// the JSON document, or the reason there is none, and exits.
//
// Binaries that use an Executor must hand control to RunWorker when
// IsWorker reports true, before doing anything else:
//
//	func main() {
//		if sandbox.IsWorker() {
//			os.Exit(sandbox.RunWorker())
//		}
//		...
//	}
package sandbox
