package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jbweber/corral/api/v1alpha1"
)

const fileExt = ".yaml"

// Store keeps one YAML file per domain, named after the domain, in Dir.
// The manager uses one Store for persistent definitions and another for
// the status of active domains.
type Store struct {
	Dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Ensure creates the directory if it does not exist.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.Dir, err)
	}
	return nil
}

// Path returns the file a domain is stored in.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name+fileExt)
}

// LoadAll reads every domain file in the directory, sorted by file name.
// Unreadable or invalid files are skipped and reported together in the
// returned error alongside the domains that did load. A missing directory
// holds no domains.
func (s *Store) LoadAll() ([]*v1alpha1.Domain, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.Dir, err)
	}
	sort.Strings(matches)

	var (
		domains []*v1alpha1.Domain
		errs    []error
	)
	for _, path := range matches {
		d, err := LoadFromFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if want := filepath.Base(path); want != d.Name+fileExt {
			errs = append(errs, fmt.Errorf("%s: file name does not match domain name %q", path, d.Name))
			continue
		}
		domains = append(domains, d)
	}
	return domains, errors.Join(errs...)
}

// Save writes the domain to its file.
func (s *Store) Save(d *v1alpha1.Domain) error {
	return SaveToFile(d, s.Path(d.Name))
}

// Delete removes the domain's file. A missing file is not an error.
func (s *Store) Delete(d *v1alpha1.Domain) error {
	if err := os.Remove(s.Path(d.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", s.Path(d.Name), err)
	}
	return nil
}

// Serialize renders the domain the way it is stored.
func (s *Store) Serialize(d *v1alpha1.Domain) ([]byte, error) {
	return Marshal(d)
}

// Parse reads a serialized domain.
func (s *Store) Parse(data []byte) (*v1alpha1.Domain, error) {
	return LoadFromYAML(data)
}
