package target

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/andybalholm/brotli"
)

// LoadFile reads a target collection from path. Gzip input is detected by
// its magic bytes, brotli by a .br extension.
func LoadFile(ctx context.Context, path string, opts Options) (Matcher,
	error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTargetLoad, err)
	}
	defer f.Close()

	return Load(ctx, f, path, opts)
}

// Load parses one address per line from r. Blank lines and lines starting
// with '#' are skipped; anything after the first comma or whitespace is
// ignored so exported "address,balance" lists load unchanged. Any invalid
// address fails the whole load.
func Load(ctx context.Context, r io.Reader, name string,
	opts Options) (Matcher, error) {

	if err := opts.normalize(); err != nil {
		return nil, err
	}

	src, err := decompress(r, name)
	if err != nil {
		return nil, err
	}

	var (
		addrs   []string
		scanner = bufio.NewScanner(src)
		line    int
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if i := strings.IndexAny(text, ", \t"); i >= 0 {
			text = text[:i]
		}

		canonical, err := address.Validate(text, opts.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrTargetLoad,
				name, line, err)
		}
		addrs = append(addrs, canonical)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTargetLoad, name, err)
	}

	m, err := New(addrs, opts)
	if err != nil {
		return nil, err
	}

	log.InfoS(ctx, "Target collection loaded",
		"source", name,
		"addresses", m.Len(),
		"filtered", IsFiltered(m))

	return m, nil
}

func decompress(r io.Reader, name string) (io.Reader, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTargetLoad, name, err)
		}
		return gz, nil
	}

	if strings.HasSuffix(strings.ToLower(name), ".br") {
		return brotli.NewReader(br), nil
	}

	return br, nil
}
