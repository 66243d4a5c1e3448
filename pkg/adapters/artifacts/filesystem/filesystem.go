package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/modkernel/pkg/domain"
)

// DescriptorFile is the manifest every module directory carries
const DescriptorFile = "module.yaml"

// ErrUnsupportedLocation is returned for locations that are not local paths
var ErrUnsupportedLocation = errors.New("unsupported artifact location")

// manifest is the on-disk form of a module descriptor
type manifest struct {
	Group        string   `yaml:"group"`
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Entrypoint   string   `yaml:"entrypoint,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// Source stages module directories under the kernel home and transfers them
// into kernel storage.
//
// Layout:
//
//	<home>/staging/<id>                      fetched, not yet transferred
//	<home>/modules/<group>/<name>/<version>  installed modules
type Source struct {
	home   string
	logger *zap.Logger
}

// New creates a filesystem artifact source rooted at home
func New(home string, logger *zap.Logger) *Source {
	return &Source{home: home, logger: logger}
}

// StagingDir returns the directory holding fetched artifacts
func (s *Source) StagingDir() string { return filepath.Join(s.home, "staging") }

// ModulesDir returns the directory holding installed modules
func (s *Source) ModulesDir() string { return filepath.Join(s.home, "modules") }

// Prepare creates the kernel home layout
func (s *Source) Prepare() error {
	for _, dir := range []string{s.home, s.StagingDir(), s.ModulesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// CleanStaging discards every artifact that was fetched but never
// transferred
func (s *Source) CleanStaging() error {
	entries, err := os.ReadDir(s.StagingDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.StagingDir(), e.Name())); err != nil {
			return fmt.Errorf("failed to clean staging: %w", err)
		}
	}
	return nil
}

// Fetch copies the module directory at location into a fresh staging
// directory
func (s *Source) Fetch(ctx context.Context, location string) (string, error) {
	src, err := LocalPath(location)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a module directory", src)
	}

	staged := filepath.Join(s.StagingDir(), uuid.New().String())
	if err := copyTree(ctx, src, staged); err != nil {
		_ = os.RemoveAll(staged)
		return "", fmt.Errorf("failed to stage %s: %w", location, err)
	}

	s.logger.Debug("artifact staged",
		zap.String("location", location),
		zap.String("staged", staged))
	return staged, nil
}

// Scan reads the staged module's descriptor file
func (s *Source) Scan(_ context.Context, staged string) (*domain.Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(staged, DescriptorFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", DescriptorFile, err)
	}
	return ParseDescriptor(data)
}

// Transfer moves a staged module into kernel storage, replacing any
// previous copy of the same coordinate
func (s *Source) Transfer(_ context.Context, staged string, c domain.Coordinate) (string, error) {
	dest := s.modulePath(c)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	if err := os.Rename(staged, dest); err != nil {
		return "", fmt.Errorf("failed to move %s into storage: %w", c, err)
	}
	return dest, nil
}

// Remove deletes an installed module from kernel storage
func (s *Source) Remove(_ context.Context, c domain.Coordinate) error {
	if err := os.RemoveAll(s.modulePath(c)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", c, err)
	}
	return nil
}

// Discard deletes a staged artifact. Paths outside the staging directory are
// refused.
func (s *Source) Discard(staged string) error {
	rel, err := filepath.Rel(s.StagingDir(), staged)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to discard %s: not a staged artifact", staged)
	}
	return os.RemoveAll(staged)
}

func (s *Source) modulePath(c domain.Coordinate) string {
	return filepath.Join(s.ModulesDir(), c.Group, c.Name, c.Version)
}

// ParseDescriptor decodes a module.yaml document
func ParseDescriptor(data []byte) (*domain.Descriptor, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", DescriptorFile, err)
	}

	c, err := domain.NewCoordinate(m.Group, m.Name, m.Version)
	if err != nil {
		return nil, err
	}
	desc := &domain.Descriptor{Coordinate: c, Entrypoint: m.Entrypoint}
	for _, dep := range m.Dependencies {
		dc, err := domain.ParseCoordinate(dep)
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", dep, err)
		}
		desc.Dependencies = append(desc.Dependencies, dc)
	}
	return desc, nil
}

// LocalPath resolves a file:// URL or plain path to a filesystem path
func LocalPath(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLocation, location)
	}
	switch u.Scheme {
	case "":
		return filepath.Clean(location), nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: remote host %s", ErrUnsupportedLocation, u.Host)
		}
		return filepath.Clean(u.Path), nil
	default:
		return "", fmt.Errorf("%w: scheme %s", ErrUnsupportedLocation, u.Scheme)
	}
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// symlinks and devices are not part of a module
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
