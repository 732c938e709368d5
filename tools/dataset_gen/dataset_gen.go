package main

// dataset_gen generates deterministic key datasets for standalone load
// testing of cachekit (outside `go test`). It emits newline-separated
// cache keys — decimal strings with an optional prefix, the same shape
// bench/ formats its keys with — so a dataset generated here reproduces
// the benchmark workload against a real service that embeds the cache.
// With -sizes, each line also
// carries a tab-separated payload byte size so a driver can synthesize
// values without a second dataset.
//
// Usage:
//   go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -out keys.txt
//
// Flags:
//   -n       number of keys to generate (default 1e6)
//   -dist    distribution: "uniform" or "zipf" (default uniform)
//   -zipfs   Zipf s parameter (>1)  (default 1.2)
//   -zipfv   Zipf v parameter (>=1) (default 1.0)
//   -prefix  string prepended to every key (default "key-")
//   -sizes   append a tab-separated payload size to each line
//   -minsize smallest payload size in bytes when -sizes is set (default 64)
//   -maxsize largest payload size in bytes when -sizes is set (default 4096)
//   -seed    RNG seed (default current time)
//   -out     output file (default stdout)
//
// The program is placed under version control so that any contributor can
// regenerate the exact dataset used in performance regression hunting.
//
// © 2025 cachekit authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of keys to generate")
		dist    = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		prefix  = flag.String("prefix", "key-", "string prepended to every key")
		sizes   = flag.Bool("sizes", false, "append a tab-separated payload size to each line")
		minSize = flag.Int("minsize", 64, "smallest payload size in bytes with -sizes")
		maxSize = flag.Int("maxsize", 4096, "largest payload size in bytes with -sizes")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	if *sizes && (*minSize <= 0 || *maxSize < *minSize) {
		fmt.Fprintln(os.Stderr, "need 0 < minsize <= maxsize")
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		key := *prefix + strconv.FormatUint(gen(), 10)
		if *sizes {
			size := *minSize + rnd.Intn(*maxSize-*minSize+1)
			fmt.Fprintf(w, "%s\t%d\n", key, size)
		} else {
			fmt.Fprintln(w, key)
		}
	}
}
