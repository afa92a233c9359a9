package update

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ManifestFileName is the name of the release manifest both on the update
// server and inside the local staging directory.
const ManifestFileName = "RELEASES"

// ErrInvalidManifest is returned for manifests whose first line cannot be parsed.
var ErrInvalidManifest = errors.New("invalid RELEASES manifest")

// ManifestEntry is the first line of a RELEASES manifest:
// "<sha1> <name>-<version>-full.nupkg <size>".
type ManifestEntry struct {
	Checksum string
	FileName string
	Size     int64
}

// Version extracts the version from the package file name.
func (e ManifestEntry) Version() (string, error) {
	return PackageVersion(e.FileName)
}

// ParseManifest parses the first non-empty line of a RELEASES manifest.
func ParseManifest(text string) (ManifestEntry, error) {
	var line string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}

	fields := strings.Fields(strings.TrimPrefix(line, "\ufeff"))
	if len(fields) < 3 {
		return ManifestEntry{}, fmt.Errorf("%w: expected checksum, file name and size, got %q", ErrInvalidManifest, line)
	}

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return ManifestEntry{}, fmt.Errorf("%w: bad size %q", ErrInvalidManifest, fields[2])
	}

	return ManifestEntry{
		Checksum: fields[0],
		FileName: fields[1],
		Size:     size,
	}, nil
}

// PackageVersion returns the version embedded in a package file name, e.g.
// "1.3.0" for "MyApp-1.3.0-full.nupkg" or "my-app-1.3.0-delta.nupkg".
func PackageVersion(fileName string) (string, error) {
	name := strings.TrimSuffix(fileName, ".nupkg")
	name = strings.TrimSuffix(name, "-full")
	name = strings.TrimSuffix(name, "-delta")

	idx := strings.LastIndex(name, "-")
	if idx < 0 || idx == len(name)-1 {
		return "", fmt.Errorf("%w: no version in file name %q", ErrInvalidManifest, fileName)
	}
	return name[idx+1:], nil
}

// writeManifest stores manifest text in dir for the platform updater.
func writeManifest(dir, text string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create update directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
