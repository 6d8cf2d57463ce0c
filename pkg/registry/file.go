package registry

import (
	"context"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const unitFileExt = ".yaml"

// unitRecord is everything one unit publishes, stored as one YAML file.
type unitRecord struct {
	Attrs  map[string]string `yaml:"attrs,omitempty"`
	Status *StatusEntry      `yaml:"status,omitempty"`
}

// File is a directory backed by a shared filesystem tree, one file per unit.
// Each unit only ever rewrites its own file.
type File struct {
	root string
	self string
}

// OpenFile registers self under root, creating root if needed.
func OpenFile(root, self string) (*File, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create directory root")
	}
	f := &File{root: root, self: self}
	if _, err := os.Stat(f.path(self)); errors.Is(err, fs.ErrNotExist) {
		if err := f.write(unitRecord{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to stat unit file")
	}
	return f, nil
}

func (f *File) path(unit string) string {
	return filepath.Join(f.root, url.PathEscape(unit)+unitFileExt)
}

func (f *File) read(unit string) (unitRecord, error) {
	var rec unitRecord
	b, err := os.ReadFile(f.path(unit))
	if errors.Is(err, fs.ErrNotExist) {
		return rec, errors.Wrapf(ErrNotFound, "unit %s", unit)
	}
	if err != nil {
		return rec, errors.Wrapf(err, "failed to read unit %s", unit)
	}
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return rec, errors.Wrapf(err, "failed to parse unit %s", unit)
	}
	return rec, nil
}

func (f *File) write(rec unitRecord) error {
	b, err := yaml.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode unit record")
	}
	return WriteFileAtomic(f.path(f.self), b, 0o644)
}

func (f *File) Self() string { return f.self }

func (f *File) Peers(context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list units")
	}
	var peers []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), unitFileExt)
		if !ok || e.IsDir() {
			continue
		}
		unit, err := url.PathUnescape(name)
		if err != nil || unit == f.self {
			continue
		}
		peers = append(peers, unit)
	}
	slices.Sort(peers)
	return peers, nil
}

func (f *File) Get(_ context.Context, peer, key string) (string, error) {
	rec, err := f.read(peer)
	if err != nil {
		return "", err
	}
	v, ok := rec.Attrs[key]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "%s of %s", key, peer)
	}
	return v, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	rec, err := f.readSelf()
	if err != nil {
		return err
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]string)
	}
	rec.Attrs[key] = value
	return f.write(rec)
}

func (f *File) SetStatus(_ context.Context, status Status, message string) error {
	rec, err := f.readSelf()
	if err != nil {
		return err
	}
	rec.Status = &StatusEntry{Status: status, Message: message}
	return f.write(rec)
}

func (f *File) Status(_ context.Context, unit string) (StatusEntry, error) {
	rec, err := f.read(unit)
	if err != nil {
		return StatusEntry{}, err
	}
	if rec.Status == nil {
		return StatusEntry{}, errors.Wrapf(ErrNotFound, "status of %s", unit)
	}
	return *rec.Status, nil
}

func (f *File) readSelf() (unitRecord, error) {
	rec, err := f.read(f.self)
	if errors.Is(err, ErrNotFound) {
		return unitRecord{}, nil
	}
	return rec, err
}

// WriteFileAtomic writes data to a temporary file beside path and renames it
// into place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temporary file")
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to set file mode")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to move file into place")
}
