package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultProfileFile is the name of the profile file in the profile folder
const DefaultProfileFile = "profiles.yaml"

// ErrProfileNotFound is returned when a profile doesn't exist
var ErrProfileNotFound = errors.New("profile not found")

// storeFile is the content of the profile file
type storeFile struct {
	Version   string                   `yaml:"version"`
	Timestamp time.Time                `yaml:"timestamp"`
	Profiles  map[string]*LoginProfile `yaml:"profiles"`
}

// Store of login profiles kept in a single yaml file
type Store struct {
	path     string
	profiles map[string]*LoginProfile
	lock     sync.Mutex
}

// Path of the profile file
func (store *Store) Path() string { return store.path }

// Load the profiles from file. A missing or empty file is an empty store.
func (store *Store) Load() error {
	store.lock.Lock()
	defer store.lock.Unlock()

	data, err := os.ReadFile(store.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		store.profiles = make(map[string]*LoginProfile)
		return nil
	} else if err != nil {
		return err
	}
	content := storeFile{}
	if err = yaml.Unmarshal(data, &content); err != nil {
		return fmt.Errorf("profile file '%s' is invalid: %w", store.path, err)
	}
	store.profiles = make(map[string]*LoginProfile, len(content.Profiles))
	for name, p := range content.Profiles {
		if p == nil {
			continue
		}
		p.Name = name
		store.profiles[name] = p
	}
	logrus.Debugf("Store.Load: %d profiles from '%s'", len(store.profiles), store.path)
	return nil
}

// commit writes the profiles to file. The store lock must be held.
func (store *Store) commit() error {
	content := storeFile{
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Profiles:  store.profiles,
	}
	data, err := yaml.Marshal(&content)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(store.path), 0700); err != nil {
		return err
	}
	// write to a temp file and rename so a watcher never sees a partial file
	tmpPath := store.path + ".tmp"
	if err = os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, store.path)
}

// Get returns a copy of the profile with the given name
func (store *Store) Get(name string) (*LoginProfile, error) {
	store.lock.Lock()
	defer store.lock.Unlock()
	p, found := store.profiles[name]
	if !found {
		return nil, fmt.Errorf("'%s': %w", name, ErrProfileNotFound)
	}
	clone := *p
	return &clone, nil
}

// Names returns the sorted profile names
func (store *Store) Names() []string {
	store.lock.Lock()
	defer store.lock.Unlock()
	names := make([]string, 0, len(store.profiles))
	for name := range store.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save adds or replaces the profile and writes the file
func (store *Store) Save(p *LoginProfile) error {
	if p == nil || p.Name == "" {
		return errors.New("profile name is required")
	}
	store.lock.Lock()
	defer store.lock.Unlock()
	clone := *p
	store.profiles[p.Name] = &clone
	return store.commit()
}

// SaveCorrelationID updates the correlation id of an existing profile and writes the file.
// Nothing is written if the id is unchanged.
func (store *Store) SaveCorrelationID(name string, correlationID string) error {
	store.lock.Lock()
	defer store.lock.Unlock()
	p, found := store.profiles[name]
	if !found {
		return fmt.Errorf("'%s': %w", name, ErrProfileNotFound)
	}
	if p.CorrelationID == correlationID {
		return nil
	}
	p.CorrelationID = correlationID
	return store.commit()
}

// Remove the profile and write the file
func (store *Store) Remove(name string) error {
	store.lock.Lock()
	defer store.lock.Unlock()
	if _, found := store.profiles[name]; !found {
		return fmt.Errorf("'%s': %w", name, ErrProfileNotFound)
	}
	delete(store.profiles, name)
	return store.commit()
}

// Watch reloads the store when the profile file changes on disk, for example when
// another client instance saves a new correlation id.
// This returns after the watcher is started. It stops when the context is done.
//  onChange is invoked after each successful reload. Optional.
func (store *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	folder := filepath.Dir(store.path)
	if err = os.MkdirAll(folder, 0700); err != nil {
		watcher.Close()
		return err
	}
	// watch the folder as the file is replaced on each commit
	if err = watcher.Add(folder); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(store.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := store.Load(); err != nil {
					logrus.Warningf("Store.Watch: reload of '%s' failed: %s", store.path, err)
					continue
				}
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Warningf("Store.Watch: %s", err)
			}
		}
	}()
	return nil
}

// NewStore creates a profile store for the given file and loads it
//  path of the profile file, eg ~/.config/wost/profiles.yaml
func NewStore(path string) (*Store, error) {
	store := &Store{
		path:     path,
		profiles: make(map[string]*LoginProfile),
	}
	err := store.Load()
	return store, err
}
