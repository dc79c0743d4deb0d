// Package bootstrap reads and writes the local file a node takes its
// initial registry directory from.
//
// The file holds one registry per pair of lines, address then guest
// credential. An empty file asks the node to act as its own registry.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"federegistry/pkg/types"

	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
)

// ErrNoBootstrap is returned when the bootstrap file does not exist.
var ErrNoBootstrap = errors.New("no bootstrap file")

const (
	// FileName is the bootstrap file's name inside the registry home.
	FileName = "reg_config"
	// HomeEnv overrides the registry home directory.
	HomeEnv = "REGISTRY_HOME"

	defaultHome = "~/.federegistry"
)

// Home returns the registry home: $REGISTRY_HOME, else ~/.federegistry.
func Home() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return homedir.Expand(home)
	}
	return homedir.Expand(defaultHome)
}

// FileBootstrap is a bootstrap file guarded by an exclusive lock on
// <path>.lock, so concurrent inits on one host see one directory.
type FileBootstrap struct {
	path  string
	flock *flock.Flock
}

func NewFileBootstrap(path string) *FileBootstrap {
	return &FileBootstrap{
		path:  path,
		flock: flock.New(path + ".lock"),
	}
}

// Default returns the bootstrap file in the registry home.
func Default() (*FileBootstrap, error) {
	home, err := Home()
	if err != nil {
		return nil, fmt.Errorf("cannot locate registry home: %w", err)
	}
	return NewFileBootstrap(filepath.Join(home, FileName)), nil
}

// Path returns the bootstrap file path.
func (b *FileBootstrap) Path() string {
	return b.path
}

// Load returns the directory in the file, nil if the file is empty, or
// ErrNoBootstrap if there is no file.
func (b *FileBootstrap) Load() (*types.Registries, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	defer b.flock.Unlock()

	return b.read()
}

// Save writes regs to the file, creating it if needed.
func (b *FileBootstrap) Save(regs types.Registries) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.flock.Unlock()

	return b.write(regs)
}

// LoadOrCreate returns the directory in the file. If the file exists but is
// empty, create provides the directory, which is written back. The lock is
// held throughout.
func (b *FileBootstrap) LoadOrCreate(create func() (types.Registries, error)) (types.Registries, error) {
	if err := b.lock(); err != nil {
		return types.Registries{}, err
	}
	defer b.flock.Unlock()

	regs, err := b.read()
	if err != nil {
		return types.Registries{}, err
	}
	if regs != nil {
		return *regs, nil
	}

	created, err := create()
	if err != nil {
		return types.Registries{}, err
	}
	if err := b.write(created); err != nil {
		return types.Registries{}, err
	}
	return created, nil
}

func (b *FileBootstrap) lock() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return fmt.Errorf("failed to create bootstrap directory: %w", err)
	}
	if err := b.flock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", b.path, err)
	}
	return nil
}

func (b *FileBootstrap) read() (*types.Registries, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, ErrNoBootstrap
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("malformed %s: registry address without credential", b.path)
	}

	regs := &types.Registries{}
	for i := 0; i < len(lines); i += 2 {
		regs.Registries = append(regs.Registries, types.Registry{
			Address:  lines[i],
			GuestJWT: lines[i+1],
		})
	}
	return regs, nil
}

func (b *FileBootstrap) write(regs types.Registries) error {
	var sb strings.Builder
	for _, reg := range regs.Registries {
		fmt.Fprintf(&sb, "%s\n%s\n", reg.Address, reg.GuestJWT)
	}
	if err := os.WriteFile(b.path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", b.path, err)
	}
	return nil
}
