// Command utf8scan drives the scanner package over a file (or standard
// input) and prints how many bytes, characters, lines and illegal
// sequences it found, and how long the scan took. It doubles as a
// demonstration harness for the filereader/codec/scanner stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/prologic/bitcask"

	"utf8scan/codec"
	"utf8scan/filereader"
	"utf8scan/scanner"
)

// stats is the summary utf8scan computes for one input: how many bytes,
// characters and illegal sequences it found, and how long that took.
// It is also the unit cached by -cache.
type stats struct {
	Bytes    int64
	Chars    int64
	Illegal  int64
	Lines    int64
	Duration time.Duration
}

func (s stats) String() string {
	return fmt.Sprintf("bytes=%d chars=%d illegal=%d lines=%d duration=%s",
		s.Bytes, s.Chars, s.Illegal, s.Lines, s.Duration)
}

func (s stats) marshal() []byte {
	return []byte(fmt.Sprintf("%d,%d,%d,%d,%d", s.Bytes, s.Chars, s.Illegal, s.Lines, int64(s.Duration)))
}

func unmarshalStats(b []byte) (stats, error) {
	fields := strings.Split(string(b), ",")
	if len(fields) != 5 {
		return stats{}, errors.Errorf("malformed cache entry %q", b)
	}

	nums := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return stats{}, errors.Wrapf(err, "parsing cache field %d", i)
		}
		nums[i] = n
	}

	return stats{
		Bytes:    nums[0],
		Chars:    nums[1],
		Illegal:  nums[2],
		Lines:    nums[3],
		Duration: time.Duration(nums[4]),
	}, nil
}

func main() {
	bufSize := flag.Int("bufsize", 0, "total double-buffer size in bytes (rounded up to 2*pagesize); 0 picks the default")
	profileMode := flag.String("profile", "", "enable profiling: cpu, mem or block")
	cacheDir := flag.String("cache", "", "bitcask directory for memoizing scan stats by path+mtime+bufsize; disabled if empty")
	delim := flag.String("delim", "\n", "single rune passed to skip-until-after when -skip is set")
	skip := flag.Bool("skip", false, "skip to the first line past the first occurrence of -delim before scanning")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <path|->\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile).Stop()
	case "block":
		defer profile.Start(profile.BlockProfile).Stop()
	default:
		log.Fatalf("unknown -profile mode %q", *profileMode)
	}

	delimRunes := []rune(*delim)
	if *skip && len(delimRunes) != 1 {
		log.Fatalf("-delim must be exactly one character, got %q", *delim)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("interrupted, stopping scan")
		cancel()
	}()

	opener, resolvedPath, mtime, err := resolveOpener(path)
	if err != nil {
		log.Fatalf("opening %s: %s", path, err)
	}

	var cache *bitcask.Bitcask
	var cacheKey string
	if *cacheDir != "" {
		cache, err = bitcask.Open(*cacheDir)
		if err != nil {
			log.Fatalf("opening cache at %s: %s", *cacheDir, err)
		}
		defer cache.Close()

		cacheKey = fmt.Sprintf("%s|%d|%d", resolvedPath, mtime.UnixNano(), filereader.RoundBufferSize(*bufSize))
		if cached, err := cache.Get([]byte(cacheKey)); err == nil {
			s, err := unmarshalStats(cached)
			if err != nil {
				log.Printf("discarding malformed cache entry: %s", err)
			} else {
				log.Printf("cache hit for %s", resolvedPath)
				fmt.Println(s)
				return
			}
		}
	}

	s, err := scanFile(ctx, opener, resolvedPath, *bufSize, *skip, delimRune(delimRunes))
	if err != nil {
		log.Fatalf("scanning %s: %s", resolvedPath, err)
	}

	fmt.Println(s)

	if cache != nil {
		if err := cache.Put([]byte(cacheKey), s.marshal()); err != nil {
			log.Printf("caching stats for %s: %s", resolvedPath, err)
		}
	}
}

func delimRune(rs []rune) rune {
	if len(rs) == 0 {
		return '\n'
	}
	return rs[0]
}

// resolveOpener turns a CLI path argument into a filereader.Opener and
// the name to open through it. "-" reads all of standard input into
// memory, since there is no seekable descriptor to read_at against.
func resolveOpener(path string) (filereader.Opener, string, time.Time, error) {
	if path == "-" {
		data, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", time.Time{}, errors.Wrap(err, "reading stdin")
		}
		return filereader.MemoryOpener{Files: map[string][]byte{"stdin": data}}, "stdin", time.Now(), nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, "", time.Time{}, errors.Wrap(err, "stat")
	}

	dir, base := filepath.Split(path)
	return filereader.OSOpener{Dir: filereader.NewDir(dir)}, base, fi.ModTime(), nil
}

func scanFile(ctx context.Context, opener filereader.Opener, path string, bufSize int, doSkip bool, delim rune) (stats, error) {
	start := time.Now()

	r, err := filereader.OpenDoubleBuffer(opener, path, bufSize)
	if err != nil {
		return stats{}, err
	}
	defer r.Close()

	var sc scanner.Scanner
	defer sc.Close(r)

	var s stats

	if doSkip {
		if err := sc.SkipUntilAfter(r, delim); err != nil && !errors.Is(err, scanner.ErrNoData) {
			return stats{}, err
		}
		sc.ClearToken(r)
	}

	for {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		default:
		}

		cp, err := sc.NextChar(r)
		if errors.Is(err, scanner.ErrNoData) {
			break
		}
		if errors.Is(err, scanner.ErrIllegalSequence) {
			s.Illegal++
			continue
		}
		if err != nil {
			return s, err
		}

		s.Chars++
		if cp == '\n' {
			s.Lines++
		}
		if cp <= codec.MaxCodePoint {
			s.Bytes += int64(runeWidth(cp))
		}

		sc.ClearToken(r)
	}

	s.Duration = time.Since(start)
	return s, nil
}

func runeWidth(cp rune) int {
	var buf [codec.MaxSequenceLength]byte
	n, err := codec.Encode(cp, buf[:])
	if err != nil {
		return 0
	}
	return n
}
