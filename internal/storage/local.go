package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	generationsDir = "generations"
	currentLink    = "current"
	tempPrefix     = ".tmp-"

	staleStaging = 24 * time.Hour
)

// LocalStore publishes generations on the local filesystem:
//
//	<root>/generations/.tmp-<id>/   staging
//	<root>/generations/<id>/        finalized
//	<root>/current -> generations/<id>
//
// Finalize renames the staging directory and then swaps the current symlink
// with a single rename, so readers resolving current always see a whole
// generation.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, generationsDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: create base directory %s: %w", ErrWrite, abs, err)
	}
	return &LocalStore{baseDir: abs}, nil
}

func (s *LocalStore) tempDir(gen string) string {
	return filepath.Join(s.baseDir, generationsDir, tempPrefix+gen)
}

func (s *LocalStore) genDir(gen string) string {
	return filepath.Join(s.baseDir, generationsDir, gen)
}

// WriteTemp writes one file into the staging directory of gen.
func (s *LocalStore) WriteTemp(ctx context.Context, gen, name string, data []byte) error {
	if err := validGeneration(gen); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.tempDir(gen)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory %s: %w", ErrWrite, dir, err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrWrite, p, err)
	}
	return nil
}

// Finalize publishes gen.
func (s *LocalStore) Finalize(ctx context.Context, gen string) error {
	if err := validGeneration(gen); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	tmp, final := s.tempDir(gen), s.genDir(gen)
	if _, err := os.Stat(tmp); err != nil {
		return fmt.Errorf("%w: nothing staged for generation %s: %w", ErrWrite, gen, err)
	}
	manifest, err := os.ReadFile(filepath.Join(tmp, ManifestFile))
	if err != nil {
		return fmt.Errorf("%w: no manifest staged for generation %s: %w", ErrWrite, gen, err)
	}
	err = checkStaged(gen, manifest, func(name string) (bool, error) {
		_, err := os.Stat(filepath.Join(tmp, name))
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: rename %s to %s: %w", ErrWrite, tmp, final, err)
	}
	if err := s.pointAt(gen); err != nil {
		os.Rename(final, tmp)
		return err
	}
	return nil
}

// pointAt swaps the current link to gen with a single rename.
func (s *LocalStore) pointAt(gen string) error {
	link := filepath.Join(s.baseDir, currentLink)
	tmpLink := link + tempPrefix + gen
	os.Remove(tmpLink)
	if err := os.Symlink(filepath.Join(generationsDir, gen), tmpLink); err != nil {
		return fmt.Errorf("%w: create link %s: %w", ErrWrite, tmpLink, err)
	}
	if err := os.Rename(tmpLink, link); err != nil {
		os.Remove(tmpLink)
		return fmt.Errorf("%w: swap %s: %w", ErrWrite, link, err)
	}
	return nil
}

// Rollback points current back at previous and deletes gen.
func (s *LocalStore) Rollback(ctx context.Context, gen, previous string) error {
	if err := validGeneration(gen); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if previous == gen {
		return fmt.Errorf("%w: cannot roll %s back onto itself", ErrWrite, gen)
	}

	if previous == "" {
		err := os.Remove(filepath.Join(s.baseDir, currentLink))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove current link: %w", ErrWrite, err)
		}
	} else {
		if err := validGeneration(previous); err != nil {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
		if _, err := os.Stat(s.genDir(previous)); err != nil {
			return fmt.Errorf("%w: previous generation %s: %w", ErrWrite, previous, err)
		}
		if err := s.pointAt(previous); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(s.genDir(gen)); err != nil {
		return fmt.Errorf("remove withdrawn generation %s: %w", gen, err)
	}
	return nil
}

// Abort removes the staging directory of gen.
func (s *LocalStore) Abort(ctx context.Context, gen string) error {
	if err := validGeneration(gen); err != nil {
		return err
	}
	if err := os.RemoveAll(s.tempDir(gen)); err != nil {
		return fmt.Errorf("remove staged generation %s: %w", gen, err)
	}
	return nil
}

// Current returns the id the current link points at.
func (s *LocalStore) Current(ctx context.Context) (string, error) {
	target, err := os.Readlink(filepath.Join(s.baseDir, currentLink))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoGeneration
	}
	if err != nil {
		return "", fmt.Errorf("read current link: %w", err)
	}
	return filepath.Base(target), nil
}

// ReadCurrent reads name from the current generation.
func (s *LocalStore) ReadCurrent(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	gen, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.ReadGeneration(ctx, gen, name)
}

// ReadGeneration reads name from the finalized generation gen.
func (s *LocalStore) ReadGeneration(ctx context.Context, gen, name string) ([]byte, error) {
	if err := validGeneration(gen); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.genDir(gen), name))
}

// Generations lists finalized generation directories, oldest first.
func (s *LocalStore) Generations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, generationsDir))
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	var gens []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), tempPrefix) {
			gens = append(gens, e.Name())
		}
	}
	sort.Strings(gens)
	return gens, nil
}

// Prune removes old generations and staging directories left behind by
// interrupted runs. Staging directories younger than staleStaging may belong
// to a run still in progress and are kept.
func (s *LocalStore) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	gens, err := s.Generations(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoGeneration) {
		return nil, err
	}

	entries, _ := os.ReadDir(filepath.Join(s.baseDir, generationsDir))
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < staleStaging {
			continue
		}
		os.RemoveAll(filepath.Join(s.baseDir, generationsDir, e.Name()))
	}

	var removed []string
	for _, gen := range pruneCandidates(gens, current, keep) {
		if err := os.RemoveAll(s.genDir(gen)); err != nil {
			return removed, fmt.Errorf("remove generation %s: %w", gen, err)
		}
		removed = append(removed, gen)
	}
	return removed, nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(s.baseDir, key))
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

var _ AtomicStore = (*LocalStore)(nil)
