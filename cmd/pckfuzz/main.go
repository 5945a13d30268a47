// Command pckfuzz feeds random and mutated pickles to the restricted
// decoder and minimizes any input that breaks it.
//
// An input breaks the decoder when decoding panics, or when a graph it
// accepted does not survive being written and read back. Minimized inputs
// are written to the output directory as hex dumps.
package main

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"os"
	"path/filepath"

	"github.com/dgryski/go-ddmin"
	"github.com/spf13/pflag"

	"github.com/pcksafe/pcksafe/pickle"
)

var seeds = [][]byte{
	[]byte("(dp0\nS'real_name'\np1\nS'Staff'\np2\nsS'ids'\np3\n(I1\nI2\ntp4\ns."),
	[]byte("\x80\x02}q\x00(U\x05itemsq\x01K\x01K\x02\x86q\x02U\x01xq\x03]q\x04(h\x01h\x02eu."),
	[]byte("\x80\x02cMailman.Bouncer\n_BounceInfo\nq\x00)\x81q\x01}q\x02U\x05scoreq\x03G?\xf0\x00\x00\x00\x00\x00\x00sb."),
}

func main() {
	var (
		iterations int
		seed       int64
		outDir     string
		verbose    bool
	)
	pflag.IntVarP(&iterations, "iterations", "n", 0, "inputs to try (0: run until interrupted)")
	pflag.Int64Var(&seed, "seed", 0, "random seed (0: pick one)")
	pflag.StringVarP(&outDir, "out", "o", ".", "directory for minimized crashers")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "hex dump every input")
	pflag.Parse()

	if seed == 0 {
		var b [8]byte
		crand.Read(b[:])
		for _, c := range b {
			seed = seed<<8 | int64(c)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("fuzzing", "seed", seed, "iterations", iterations)

	policy, err := pickle.NewPolicy(pickle.DefaultAllowList()...)
	if err != nil {
		logger.Error("building policy", "error", err)
		os.Exit(1)
	}
	f := &fuzzer{
		rand:   mrand.New(mrand.NewSource(seed)),
		policy: policy,
	}

	crashes := 0
	for i := 0; iterations == 0 || i < iterations; i++ {
		doc := f.next()
		if verbose {
			fmt.Println(hex.Dump(doc))
		}
		if f.check(doc) == ddmin.Pass {
			continue
		}

		crashes++
		minimized := ddmin.Minimize(doc, f.check)
		path := filepath.Join(outDir, fmt.Sprintf("crash-%d-%d.hex", seed, i))
		if err := os.WriteFile(path, []byte(hex.Dump(minimized)), 0o644); err != nil {
			logger.Error("writing crasher", "path", path, "error", err)
			os.Exit(1)
		}
		logger.Warn("decoder broke", "iteration", i, "bytes", len(doc), "minimized", len(minimized), "path", path)
	}

	logger.Info("done", "crashes", crashes)
	if crashes > 0 {
		os.Exit(1)
	}
}

type fuzzer struct {
	rand   *mrand.Rand
	policy *pickle.Policy
}

// next returns either random bytes behind a protocol 2 header or a mutated
// seed.
func (f *fuzzer) next() []byte {
	if f.rand.Intn(2) == 0 {
		b := make([]byte, 2+f.rand.Intn(200))
		b[0], b[1] = 0x80, 0x02
		f.rand.Read(b[2:])
		return b
	}

	b := append([]byte(nil), seeds[f.rand.Intn(len(seeds))]...)
	for n := 1 + f.rand.Intn(4); n > 0; n-- {
		i := f.rand.Intn(len(b))
		switch f.rand.Intn(3) {
		case 0:
			b[i] = byte(f.rand.Intn(256))
		case 1:
			b = append(b[:i], b[i+1:]...)
		default:
			b = append(b[:i], append([]byte{byte(f.rand.Intn(256))}, b[i:]...)...)
		}
		if len(b) == 0 {
			b = []byte{'.'}
		}
	}
	return b
}

// check reports ddmin.Fail for inputs that break the decoder.
func (f *fuzzer) check(data []byte) (r ddmin.Result) {
	defer func() {
		if p := recover(); p != nil {
			r = ddmin.Fail
		}
	}()

	d := pickle.NewDecoder(f.policy)
	v, err := d.Unmarshal(data)
	if err != nil {
		return ddmin.Pass
	}
	enc, err := (&pickle.Encoder{}).Marshal(v)
	if err != nil {
		return ddmin.Pass
	}
	v2, err := d.Unmarshal(enc)
	if err != nil || !pickle.Equal(v, v2) {
		return ddmin.Fail
	}
	return ddmin.Pass
}
