// Package firmware opens a tape-archive firmware container, classifies
// each member into a partition slot by filename heuristic, and verifies
// an optional MD5 sidecar.
package firmware

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Llucs/ZodinLinux/internal/protoerr"
)

// classify maps a member filename to a partition slot by case-insensitive
// substring match, first rule wins.
func classify(name string) string {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "boot"):
		return "BOOT"
	case strings.Contains(lower, "recovery"):
		return "RECOVERY"
	case strings.Contains(lower, "system"):
		return "SYSTEM"
	case strings.Contains(lower, "userdata"):
		return "USERDATA"
	case strings.Contains(lower, "cache"):
		return "CACHE"
	case strings.Contains(lower, "modem"), strings.Contains(lower, "cp"):
		return "MODEM"
	case strings.Contains(lower, "sboot"), strings.Contains(lower, "bl"):
		return "BOOTLOADER"
	default:
		base := filepath.Base(name)
		return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
	}
}

// ParseArchive opens the ustar-compatible archive at path and returns its
// regular-file members classified into {slot: bytes}. Each member's full
// contents are read into memory; a firmware archive's total size is
// bounded by physical flash capacity, not network scale, so bounded-chunk
// streaming buys nothing here.
func ParseArchive(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, protoerr.Package("open archive %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[string][]byte)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, protoerr.Package("read archive %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, protoerr.Package("read member %s: %w", hdr.Name, err)
		}

		slot := classify(hdr.Name)
		out[slot] = data
	}
	return out, nil
}
