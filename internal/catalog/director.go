package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/store"
)

// SettingsConfigName is the name canonical settings are persisted under;
// the schema name is the qualifier.
const SettingsConfigName = "settings"

// DefaultLockTimeout bounds the wait for a schema lock.
const DefaultLockTimeout = 10 * time.Second

// ConfigStore persists container settings. *store.Store implements it.
type ConfigStore interface {
	SaveConfig(ctx context.Context, qualifier, name string, content []byte) (string, error)
	ClearConfigs(ctx context.Context, qualifier string) error
	FindAllConfigs(ctx context.Context, name string) ([]store.StoredConfig, error)
}

// Director owns the container lifecycle.
//
// Lifecycle operations on one schema name are serialized by a per-name lock
// with timeout; operations on different names run independently. After
// Shutdown every operation fails with ErrDirectorClosed.
type Director struct {
	catalog     *Catalog
	assembler   *Assembler
	configs     ConfigStore
	lockTimeout time.Duration
	locks       *lockTable

	// mu is held shared by lifecycle operations and exclusively by Shutdown.
	mu     sync.RWMutex
	closed atomic.Bool
}

// DirectorOption configures a Director.
type DirectorOption func(*Director)

// WithLockTimeout sets the schema lock timeout.
func WithLockTimeout(d time.Duration) DirectorOption {
	return func(dir *Director) {
		if d > 0 {
			dir.lockTimeout = d
		}
	}
}

// NewDirector creates a director deploying into cat.
func NewDirector(cat *Catalog, asm *Assembler, configs ConfigStore, opts ...DirectorOption) *Director {
	d := &Director{
		catalog:     cat,
		assembler:   asm,
		configs:     configs,
		lockTimeout: DefaultLockTimeout,
		locks:       newLockTable(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the catalog the director deploys into.
func (d *Director) Catalog() *Catalog {
	return d.catalog
}

// CreateNewOrReplace deploys the settings in raw, written in format, as
// schema name. A container already deployed under name is replaced and
// closed once the new one has been assembled and its settings saved; on any
// earlier failure it stays deployed.
func (d *Director) CreateNewOrReplace(ctx context.Context, name command.Id, format config.Format, raw []byte) (*Container, error) {
	return d.deploy(ctx, name, format, raw, true)
}

func (d *Director) deploy(ctx context.Context, name command.Id, format config.Format, raw []byte, persist bool) (*Container, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return nil, ErrDirectorClosed
	}

	unlock, err := d.locks.acquire(ctx, name, d.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	settings, err := config.Translate(format, raw)
	if err != nil {
		return nil, err
	}
	settings = settings.Normalize(name)
	if err := settings.Validate(name); err != nil {
		return nil, err
	}
	canonical, err := config.Encode(settings)
	if err != nil {
		return nil, err
	}

	c, err := d.assembler.Assemble(ctx, name, settings)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", name, err)
	}

	if persist {
		if _, err := d.configs.SaveConfig(ctx, name.String(), SettingsConfigName, canonical); err != nil {
			closeContainer(c)
			return nil, err
		}
	}

	if replaced := d.catalog.Deploy(c); replaced != nil {
		closeContainer(replaced)
	}
	slog.Info("schema deployed", "schema", name, "fingerprint", c.Fingerprint(), "languages", c.Languages())
	return c, nil
}

// Dispose undeploys schema name, closes its container and clears its
// persisted settings.
func (d *Director) Dispose(ctx context.Context, name command.Id) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return ErrDirectorClosed
	}

	unlock, err := d.locks.acquire(ctx, name, d.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	c, ok := d.catalog.Drop(name)
	if !ok {
		return &NoSuchContainerError{Name: name}
	}

	var errs []error
	if err := c.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", name, err))
	}
	if err := d.configs.ClearConfigs(ctx, name.String()); err != nil {
		errs = append(errs, err)
	}
	slog.Info("schema disposed", "schema", name)
	return errors.Join(errs...)
}

// Start deploys every persisted container. Containers that fail to deploy
// are logged and skipped; only a failure to read the store is returned.
func (d *Director) Start(ctx context.Context) error {
	stored, err := d.configs.FindAllConfigs(ctx, SettingsConfigName)
	if err != nil {
		return fmt.Errorf("load persisted settings: %w", err)
	}

	var deployed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sc := range stored {
		g.Go(func() error {
			name, err := command.ParseId(sc.Qualifier)
			if err != nil {
				slog.Warn("skipping persisted settings", "qualifier", sc.Qualifier, "error", err)
				return nil
			}
			if _, err := d.deploy(gctx, name, config.FormatJSON, sc.Content, false); err != nil {
				slog.Error("failed to redeploy schema", "schema", name, "revision", sc.Revision, "error", err)
				return nil
			}
			deployed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("director started", "persisted", len(stored), "deployed", deployed.Load())
	return nil
}

// Shutdown stops accepting lifecycle operations and closes every deployed
// container. Persisted settings are kept so the next Start redeploys them.
// Failures are logged, never returned.
func (d *Director) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	for _, c := range d.catalog.Clear() {
		closeContainer(c)
	}
}

func closeContainer(c *Container) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close container", "schema", c.Name(), "error", err)
	}
}
