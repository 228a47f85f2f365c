package firmware

import (
	"archive/tar"
	"crypto/md5" //nolint:gosec // test fixture hashing, not a security boundary
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTar(t *testing.T, path string, members map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	for name, data := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Size: int64(len(data)),
			Mode: 0o644,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
}

func TestClassifyPriority(t *testing.T) {
	// Ties resolve to the earlier rule: "boot" beats "bootloader"-ish
	// substrings like "bl" since it is checked first.
	cases := map[string]string{
		"boot.img":         "BOOT",
		"bootloader.bin":   "BOOT", // "boot" rule wins even though the name also suggests BOOTLOADER
		"RECOVERY.img.lz4": "RECOVERY",
		"system.img":       "SYSTEM",
		"userdata.img":     "USERDATA",
		"cache.img":        "CACHE",
		"modem.bin":        "MODEM",
		"sboot.bin":        "BOOT", // contains "boot", so the earlier rule wins over "sboot"
		"odd_name.bin":     "ODD_NAME",
	}
	for name, want := range cases {
		assert.Equal(t, want, classify(name), "classify(%q)", name)
	}
}

func TestParseArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AP.tar")
	writeTar(t, path, map[string][]byte{
		"boot.img":         []byte("boot-bytes"),
		"RECOVERY.img.lz4": []byte("recovery-compressed-bytes"),
		"odd_name.bin":     []byte("odd-bytes"),
	})

	parsed, err := ParseArchive(path)
	require.NoError(t, err)

	assert.Equal(t, []byte("boot-bytes"), parsed["BOOT"])
	assert.Equal(t, []byte("recovery-compressed-bytes"), parsed["RECOVERY"])
	assert.Equal(t, []byte("odd-bytes"), parsed["ODD_NAME"])
	assert.Len(t, parsed, 3)
}

func TestVerifyIntegrityNoSidecarIsValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AP.bin")
	require.NoError(t, os.WriteFile(path, []byte("firmware-bytes"), 0o644))

	verdict, err := VerifyIntegrity(path)
	require.NoError(t, err)
	assert.False(t, verdict.Checked)
	assert.True(t, verdict.Valid)
}

func TestVerifyIntegrityMatchingSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AP.bin")
	content := []byte("firmware-bytes")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sum := md5.Sum(content)
	sidecar := hex.EncodeToString(sum[:]) + "  AP.bin\n"
	require.NoError(t, os.WriteFile(path+".md5", []byte(sidecar), 0o644))

	verdict, err := VerifyIntegrity(path)
	require.NoError(t, err)
	assert.True(t, verdict.Checked)
	assert.True(t, verdict.Valid)
}

func TestVerifyIntegrityMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AP.bin")
	require.NoError(t, os.WriteFile(path, []byte("firmware-bytes"), 0o644))
	require.NoError(t, os.WriteFile(path+".md5", []byte("0000000000000000000000000000000 AP.bin\n"), 0o644))

	verdict, err := VerifyIntegrity(path)
	require.NoError(t, err)
	assert.True(t, verdict.Checked)
	assert.False(t, verdict.Valid)
}
