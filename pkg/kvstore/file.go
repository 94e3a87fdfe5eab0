package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/goccy/go-yaml"
	"github.com/xaionaro-go/xsync"
)

// File keeps all the keys in a single YAML document and rewrites it as a
// whole on every change.
type File struct {
	locker xsync.Mutex
	Path   string
}

var _ Store = (*File)(nil)

func NewFile(path string) *File {
	return &File{
		Path: path,
	}
}

func (s *File) load() (map[string]any, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("unable to read file '%s': %w", s.Path, err)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unable to unserialize the content of '%s': %w", s.Path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (s *File) store(m map[string]any) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("unable to serialize the data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("unable to create the directory for '%s': %w", s.Path, err)
	}

	pathNew := s.Path + ".new"
	f, err := os.OpenFile(pathNew, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("unable to open file '%s' for writing: %w", pathNew, err)
	}
	_, err = f.Write(b)
	if err == nil {
		err = f.Sync()
	}
	f.Close()
	if err != nil {
		return fmt.Errorf("unable to write data to file '%s': %w", pathNew, err)
	}

	if err := os.Rename(pathNew, s.Path); err != nil {
		return fmt.Errorf("unable to move '%s' to '%s': %w", pathNew, s.Path, err)
	}
	return nil
}

func (s *File) Put(ctx context.Context, key string, value any) error {
	return xsync.DoA3R1(ctx, &s.locker, s.putLocked, ctx, key, value)
}

func (s *File) putLocked(ctx context.Context, key string, value any) (_err error) {
	logger.Tracef(ctx, "putLocked(ctx, '%s')", key)
	defer func() { logger.Tracef(ctx, "/putLocked(ctx, '%s'): %v", key, _err) }()

	m, err := s.load()
	if err != nil {
		return err
	}

	b, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("unable to serialize the value of '%s': %w", key, err)
	}
	var normalized any
	if err := yaml.Unmarshal(b, &normalized); err != nil {
		return fmt.Errorf("unable to normalize the value of '%s': %w", key, err)
	}

	m[key] = normalized
	return s.store(m)
}

func (s *File) Get(ctx context.Context, key string, dst any) (bool, error) {
	return xsync.DoR2(ctx, &s.locker, func() (bool, error) {
		return s.getLocked(ctx, key, dst)
	})
}

func (s *File) getLocked(ctx context.Context, key string, dst any) (_ bool, _err error) {
	logger.Tracef(ctx, "getLocked(ctx, '%s')", key)
	defer func() { logger.Tracef(ctx, "/getLocked(ctx, '%s'): %v", key, _err) }()

	m, err := s.load()
	if err != nil {
		return false, err
	}
	value, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, remarshal(key, value, dst)
}

func remarshal(key string, value, dst any) error {
	b, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("unable to serialize the value of '%s': %w", key, err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unable to unserialize the value of '%s' into %T: %w", key, dst, err)
	}
	return nil
}

func (s *File) Delete(ctx context.Context, key string) error {
	return xsync.DoA2R1(ctx, &s.locker, s.deleteLocked, ctx, key)
}

func (s *File) deleteLocked(ctx context.Context, key string) (_err error) {
	logger.Tracef(ctx, "deleteLocked(ctx, '%s')", key)
	defer func() { logger.Tracef(ctx, "/deleteLocked(ctx, '%s'): %v", key, _err) }()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.store(m)
}
