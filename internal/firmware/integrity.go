package firmware

import (
	"crypto/md5" //nolint:gosec // integrity check is a vendor-format convention, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"

	"github.com/Llucs/ZodinLinux/internal/protoerr"
)

// Verdict is the outcome of a sidecar integrity check.
type Verdict struct {
	Checked  bool // false when no sidecar was present
	Valid    bool
	Expected string
	Actual   string
}

// VerifyIntegrity checks path against path+".md5" if it exists. Absent
// sidecar is considered valid. The file is memory-mapped
// rather than read in a buffered loop, the way `CircleCashTeam/magiskboot_go`
// handles large Android image files, so a multi-gigabyte Odin package
// doesn't need a second full-size heap copy just to be hashed.
func VerifyIntegrity(path string) (Verdict, error) {
	sidecarPath := path + ".md5"
	sidecar, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Verdict{Checked: false, Valid: true}, nil
		}
		return Verdict{}, protoerr.Package("read sidecar %s: %w", sidecarPath, err)
	}

	fields := strings.Fields(string(sidecar))
	if len(fields) == 0 {
		return Verdict{}, protoerr.Integrity("sidecar %s is empty", sidecarPath)
	}
	expected := strings.ToLower(fields[0])

	actual, err := hashFile(path)
	if err != nil {
		return Verdict{}, err
	}

	return Verdict{
		Checked:  true,
		Valid:    actual == expected,
		Expected: expected,
		Actual:   actual,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", protoerr.Package("open %s for hashing: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", protoerr.Package("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		sum := md5.Sum(nil)
		return hex.EncodeToString(sum[:]), nil
	}

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return "", protoerr.Package("mmap %s: %w", path, err)
	}
	defer region.Unmap()

	sum := md5.Sum(region)
	return hex.EncodeToString(sum[:]), nil
}

// String formats a Verdict's mismatch for logging.
func (v Verdict) String() string {
	if v.Valid {
		return "valid"
	}
	return fmt.Sprintf("md5 mismatch: expected %s, got %s", v.Expected, v.Actual)
}
