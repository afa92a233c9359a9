// Package squirrel installs NuGet-style "-full.nupkg" packages staged by the
// update controller. It verifies the package against the RELEASES manifest,
// extracts the application binary and swaps it in place on quit.
package squirrel

import (
	"archive/zip"
	"context"
	"crypto/sha1" //nolint:gosec // RELEASES manifests carry SHA-1 digests
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goupdate "github.com/inconshreveable/go-update"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/update"
)

// ErrNotStaged is returned by QuitAndInstall before a package was verified.
var ErrNotStaged = errors.New("no verified update package staged")

const libPrefix = "lib/"

// Updater implements update.PlatformUpdater.
type Updater struct {
	logger  *zap.Logger
	exePath string
	quit    func()

	mu       sync.Mutex
	dir      string
	staged   string
	nextID   int
	handlers map[int]func(update.PlatformEvent)
}

// Option configures an Updater.
type Option func(*Updater)

// WithExecutable sets the binary that gets replaced. Defaults to os.Executable.
func WithExecutable(path string) Option {
	return func(u *Updater) { u.exePath = path }
}

// WithQuitFunc sets what QuitAndInstall calls after the binary was replaced.
func WithQuitFunc(fn func()) Option {
	return func(u *Updater) { u.quit = fn }
}

// New creates an Updater.
func New(logger *zap.Logger, opts ...Option) (*Updater, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &Updater{
		logger:   logger,
		handlers: make(map[int]func(update.PlatformEvent)),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.exePath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable path: %w", err)
		}
		u.exePath = exe
	}
	return u, nil
}

// SetPackageSource points the updater at a directory holding RELEASES and the package.
func (u *Updater) SetPackageSource(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("update source %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("update source %s is not a directory", dir)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.dir = dir
	u.staged = ""
	return nil
}

// Subscribe registers handler for platform events.
func (u *Updater) Subscribe(handler func(update.PlatformEvent)) func() {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextID
	u.nextID++
	u.handlers[id] = handler
	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		delete(u.handlers, id)
	}
}

// CheckForUpdates verifies and stages the package in the background.
// Results arrive through Subscribe.
func (u *Updater) CheckForUpdates(ctx context.Context) {
	go u.check(ctx)
}

func (u *Updater) check(ctx context.Context) {
	u.emit(update.PlatformEvent{Kind: update.PlatformChecking})

	u.mu.Lock()
	dir := u.dir
	u.mu.Unlock()
	if dir == "" {
		u.fail(errors.New("package source not set"))
		return
	}

	manifest, err := os.ReadFile(filepath.Join(dir, update.ManifestFileName))
	if err != nil {
		u.fail(fmt.Errorf("failed to read %s: %w", update.ManifestFileName, err))
		return
	}
	entry, err := update.ParseManifest(string(manifest))
	if err != nil {
		u.fail(err)
		return
	}
	if entry.FileName == "" || filepath.Base(entry.FileName) != entry.FileName {
		u.fail(fmt.Errorf("invalid package name %q", entry.FileName))
		return
	}
	u.emit(update.PlatformEvent{Kind: update.PlatformAvailable})

	if err := ctx.Err(); err != nil {
		u.fail(err)
		return
	}

	pkgPath := filepath.Join(dir, entry.FileName)
	if err := verifyPackage(pkgPath, entry); err != nil {
		u.fail(err)
		return
	}

	staged, err := u.extractBinary(pkgPath, dir)
	if err != nil {
		u.fail(err)
		return
	}

	u.mu.Lock()
	u.staged = staged
	u.mu.Unlock()

	u.logger.Info("Update package verified",
		zap.String("package", entry.FileName),
		zap.String("staged", staged))
	u.emit(update.PlatformEvent{Kind: update.PlatformDownloaded})
}

// QuitAndInstall swaps the staged binary in and quits the application.
func (u *Updater) QuitAndInstall() error {
	u.mu.Lock()
	staged := u.staged
	u.mu.Unlock()
	if staged == "" {
		return ErrNotStaged
	}

	f, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("failed to open staged binary: %w", err)
	}
	defer f.Close()

	if err := goupdate.Apply(f, goupdate.Options{TargetPath: u.exePath}); err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("update failed and rollback failed: %v (rollback: %v)", err, rollbackErr)
		}
		return fmt.Errorf("failed to apply update: %w", err)
	}
	u.logger.Info("Update applied", zap.String("target", u.exePath))

	if u.quit != nil {
		u.quit()
	}
	return nil
}

func verifyPackage(path string, entry update.ManifestEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open package: %w", err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("failed to read package: %w", err)
	}
	if n != entry.Size {
		return fmt.Errorf("package size mismatch: expected %d bytes, got %d", entry.Size, n)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, entry.Checksum) {
		return fmt.Errorf("package checksum mismatch: expected %s, got %s", entry.Checksum, sum)
	}
	return nil
}

// extractBinary copies lib/*/<executable name> out of the package into dir.
func (u *Updater) extractBinary(pkgPath, dir string) (string, error) {
	zr, err := zip.OpenReader(pkgPath)
	if err != nil {
		return "", fmt.Errorf("failed to open package: %w", err)
	}
	defer zr.Close()

	want := filepath.Base(u.exePath)
	var binary *zip.File
	for _, file := range zr.File {
		name := strings.ReplaceAll(file.Name, "\\", "/")
		if strings.HasPrefix(name, libPrefix) && strings.EqualFold(pathBase(name), want) {
			binary = file
			break
		}
	}
	if binary == nil {
		return "", fmt.Errorf("binary %s not found in package", want)
	}

	r, err := binary.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open binary in package: %w", err)
	}
	defer r.Close()

	staged := filepath.Join(dir, ".staged-"+want)
	out, err := os.OpenFile(staged, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create staged binary: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(staged)
		return "", fmt.Errorf("failed to extract binary: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(staged)
		return "", err
	}
	return staged, nil
}

func pathBase(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (u *Updater) fail(err error) {
	u.logger.Warn("Update package rejected", zap.Error(err))
	u.emit(update.PlatformEvent{Kind: update.PlatformError, Err: err})
}

func (u *Updater) emit(ev update.PlatformEvent) {
	u.mu.Lock()
	handlers := make([]func(update.PlatformEvent), 0, len(u.handlers))
	for _, h := range u.handlers {
		handlers = append(handlers, h)
	}
	u.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
