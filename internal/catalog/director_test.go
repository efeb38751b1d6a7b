package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/insight"
	"github.com/roach88/datagate/internal/store"
	"github.com/roach88/datagate/internal/testutil"
)

// engineLog records every stub engine opened by its factory.
type engineLog struct {
	mu      sync.Mutex
	engines []*testutil.StubEngine
	failDSN string
}

func (l *engineLog) factory(_ context.Context, s config.EngineSettings) (engine.Engine, error) {
	if s.DSN == l.failDSN {
		return nil, errors.New("connection refused")
	}
	e := testutil.NewStubEngine(command.ParseLanguage(s.Language), s.DSN)
	l.mu.Lock()
	l.engines = append(l.engines, e)
	l.mu.Unlock()
	return e, nil
}

func (l *engineLog) all() []*testutil.StubEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*testutil.StubEngine(nil), l.engines...)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "datagate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestDirector(t *testing.T, st *store.Store, opts ...DirectorOption) (*Director, *engineLog, *insight.Recorder) {
	t.Helper()
	log := &engineLog{failDSN: "unreachable"}
	asm := &Assembler{factories: map[command.Language]EngineFactory{}}
	asm.Register(command.SQL, log.factory)
	rec := insight.NewRecorder()
	return NewDirector(New(rec), asm, st, opts...), log, rec
}

func settingsYAML(dsn string) []byte {
	return []byte(fmt.Sprintf("engines:\n  - language: sql\n    driver: sqlite\n    dsn: %s\n", dsn))
}

func TestDirector_CreatePersistsAndDeploys(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	d, _, rec := newTestDirector(t, st)

	c, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	require.NoError(t, err)
	assert.Equal(t, "urn:datagate:schema:sales", c.Identifier())
	assert.Len(t, c.Fingerprint(), 64)

	got, ok := d.Catalog().FindByName("sales")
	require.True(t, ok)
	assert.Same(t, c, got)

	stored, err := st.FindConfig(ctx, "sales", SettingsConfigName)
	require.NoError(t, err)
	persisted, err := config.Translate(config.FormatJSON, stored)
	require.NoError(t, err)
	assert.Equal(t, "sales", persisted.Name)
	assert.Equal(t, "SQL", persisted.Engines[0].Language)

	require.Len(t, rec.Events(), 1)
	assert.Equal(t, insight.KindDeployed, rec.Events()[0].Kind)
	assert.Equal(t, []string{"SQL"}, rec.Events()[0].Attributes[insight.AttrLanguages])
}

func TestDirector_ReplaceClosesPrevious(t *testing.T) {
	ctx := context.Background()
	d, log, _ := newTestDirector(t, openStore(t))

	first, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	require.NoError(t, err)
	second, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Fingerprint(), second.Fingerprint())
	engines := log.all()
	require.Len(t, engines, 2)
	assert.Equal(t, int32(1), engines[0].Closes.Load())
	assert.Equal(t, int32(0), engines[1].Closes.Load())
}

func TestDirector_FailedAssemblyKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	d, log, _ := newTestDirector(t, st)

	current, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	require.NoError(t, err)

	_, err = d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("unreachable"))
	assert.ErrorContains(t, err, "connection refused")

	got, ok := d.Catalog().FindByName("sales")
	require.True(t, ok)
	assert.Same(t, current, got)
	assert.Equal(t, int32(0), log.all()[0].Closes.Load())

	stored, err := st.FindConfig(ctx, "sales", SettingsConfigName)
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"dsn":"a"`)
}

// flakyConfigs fails SaveConfig while failing is set.
type flakyConfigs struct {
	*store.Store
	failing bool
}

func (f *flakyConfigs) SaveConfig(ctx context.Context, qualifier, name string, content []byte) (string, error) {
	if f.failing {
		return "", errors.New("disk full")
	}
	return f.Store.SaveConfig(ctx, qualifier, name, content)
}

func TestDirector_FailedSaveKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	configs := &flakyConfigs{Store: openStore(t)}
	log := &engineLog{}
	asm := &Assembler{factories: map[command.Language]EngineFactory{}}
	asm.Register(command.SQL, log.factory)
	rec := insight.NewRecorder()
	d := NewDirector(New(rec), asm, configs)

	current, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	require.NoError(t, err)

	configs.failing = true
	_, err = d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("b"))
	assert.ErrorContains(t, err, "disk full")

	got, ok := d.Catalog().FindByName("sales")
	require.True(t, ok)
	assert.Same(t, current, got)

	engines := log.all()
	require.Len(t, engines, 2)
	assert.Equal(t, int32(0), engines[0].Closes.Load())
	assert.Equal(t, int32(1), engines[1].Closes.Load())

	stored, err := configs.FindConfig(ctx, "sales", SettingsConfigName)
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"dsn":"a"`)

	for _, e := range rec.Events() {
		assert.NotEqual(t, insight.KindDropped, e.Kind)
	}
}

func TestDirector_InvalidSettings(t *testing.T) {
	ctx := context.Background()
	d, log, _ := newTestDirector(t, openStore(t))

	tests := map[string][]byte{
		"syntax":          []byte("engines: [\n"),
		"name mismatch":   []byte("name: other\nengines:\n  - {language: sql, driver: sqlite, dsn: a}\n"),
		"unknown driver":  []byte("engines:\n  - {language: sql, driver: oracle, dsn: a}\n"),
		"unknown section": []byte("engines:\n  - {language: sql, driver: sqlite, dsn: a}\nextra: 1\n"),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, raw)
			require.Error(t, err)
			assert.True(t, command.IsUsage(err), "got %T: %v", err, err)
		})
	}

	_, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML,
		[]byte("engines:\n  - {language: sparql, driver: sqlite, dsn: a}\n"))
	var lns *engine.LanguageNotSupportedError
	assert.ErrorAs(t, err, &lns)

	assert.Empty(t, log.all())
	assert.Empty(t, d.Catalog().FindAll())
}

func TestDirector_Dispose(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	d, log, _ := newTestDirector(t, st)

	_, err := d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	require.NoError(t, err)

	require.NoError(t, d.Dispose(ctx, "sales"))
	_, ok := d.Catalog().FindByName("sales")
	assert.False(t, ok)
	assert.Equal(t, int32(1), log.all()[0].Closes.Load())

	_, err = st.FindConfig(ctx, "sales", SettingsConfigName)
	assert.ErrorIs(t, err, store.ErrConfigNotFound)

	var nsc *NoSuchContainerError
	assert.ErrorAs(t, d.Dispose(ctx, "sales"), &nsc)
}

func TestDirector_LockTimeout(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirector(t, openStore(t), WithLockTimeout(20*time.Millisecond))

	unlock, err := d.locks.acquire(ctx, "sales", time.Second)
	require.NoError(t, err)

	_, err = d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	var lte *LockTimeoutError
	require.ErrorAs(t, err, &lte)
	assert.Equal(t, command.Id("sales"), lte.Name)

	// Other names do not contend.
	_, err = d.CreateNewOrReplace(ctx, "orders", config.FormatYAML, settingsYAML("b"))
	require.NoError(t, err)

	unlock()
	assert.Equal(t, 0, d.locks.size())

	_, err = d.CreateNewOrReplace(ctx, "sales", config.FormatYAML, settingsYAML("a"))
	assert.NoError(t, err)
}

func TestDirector_ConcurrentCreateAndDispose(t *testing.T) {
	ctx := context.Background()
	d, log, _ := newTestDirector(t, openStore(t))

	for i := range 30 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := d.CreateNewOrReplace(ctx, "x", config.FormatYAML, settingsYAML(fmt.Sprintf("dsn-%d", i)))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			err := d.Dispose(ctx, "x")
			var nsc *NoSuchContainerError
			if err != nil && !errors.As(err, &nsc) {
				t.Errorf("dispose: %v", err)
			}
		}()
		wg.Wait()

		current, deployed := d.Catalog().FindByName("x")
		for _, e := range log.all() {
			live := deployed && func() bool {
				ce, _ := current.Engine(command.SQL)
				return ce == engine.Engine(e)
			}()
			if live {
				assert.Equal(t, int32(0), e.Closes.Load(), "deployed engine must stay open")
			} else {
				assert.Equal(t, int32(1), e.Closes.Load(), "undeployed engine must be closed")
			}
		}
	}
	assert.Equal(t, 0, d.locks.size())
}

func TestDirector_StartRedeploysPersisted(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	d1, _, _ := newTestDirector(t, st)
	for _, n := range []command.Id{"alpha", "beta", "gamma"} {
		_, err := d1.CreateNewOrReplace(ctx, n, config.FormatYAML, settingsYAML(string(n)))
		require.NoError(t, err)
	}
	before, ok := d1.Catalog().FindByName("beta")
	require.True(t, ok)
	d1.Shutdown()

	d2, log, _ := newTestDirector(t, st)
	require.NoError(t, d2.Start(ctx))

	var names []string
	for _, c := range d2.Catalog().FindAll() {
		names = append(names, c.Name().String())
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)
	assert.Len(t, log.all(), 3)

	after, _ := d2.Catalog().FindByName("beta")
	assert.Equal(t, before.Fingerprint(), after.Fingerprint())
}

func TestDirector_StartSkipsBrokenSettings(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	_, err := st.SaveConfig(ctx, "broken", SettingsConfigName, []byte(`{"engines":`))
	require.NoError(t, err)
	_, err = st.SaveConfig(ctx, "down", SettingsConfigName,
		[]byte(`{"engines":[{"language":"SQL","driver":"sqlite","dsn":"unreachable"}]}`))
	require.NoError(t, err)
	_, err = st.SaveConfig(ctx, "ok", SettingsConfigName,
		[]byte(`{"engines":[{"language":"SQL","driver":"sqlite","dsn":"x"}]}`))
	require.NoError(t, err)

	d, _, _ := newTestDirector(t, st)
	require.NoError(t, d.Start(ctx))

	all := d.Catalog().FindAll()
	require.Len(t, all, 1)
	assert.Equal(t, command.Id("ok"), all[0].Name())
}

func TestDirector_Shutdown(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	d, log, _ := newTestDirector(t, st)

	for _, n := range []command.Id{"a", "b"} {
		_, err := d.CreateNewOrReplace(ctx, n, config.FormatYAML, settingsYAML(string(n)))
		require.NoError(t, err)
	}
	log.all()[0].CloseErr = errors.New("close failed")

	d.Shutdown()
	d.Shutdown()

	for _, e := range log.all() {
		assert.Equal(t, int32(1), e.Closes.Load())
	}
	assert.Empty(t, d.Catalog().FindAll())

	_, err := d.CreateNewOrReplace(ctx, "c", config.FormatYAML, settingsYAML("c"))
	assert.ErrorIs(t, err, ErrDirectorClosed)
	assert.ErrorIs(t, d.Dispose(ctx, "a"), ErrDirectorClosed)

	configs, err := st.FindAllConfigs(ctx, SettingsConfigName)
	require.NoError(t, err)
	assert.Len(t, configs, 2, "shutdown keeps persisted settings")
}

func TestAssembler_ClosesOpenedEnginesOnFailure(t *testing.T) {
	sqlEngine := testutil.NewStubEngine(command.SQL, "")
	asm := &Assembler{factories: map[command.Language]EngineFactory{}}
	asm.Register(command.SQL, func(context.Context, config.EngineSettings) (engine.Engine, error) {
		return sqlEngine, nil
	})
	asm.Register(command.SPARQL, func(context.Context, config.EngineSettings) (engine.Engine, error) {
		return nil, errors.New("boom")
	})

	_, err := asm.Assemble(context.Background(), "db", config.Settings{
		Name: "db",
		Engines: []config.EngineSettings{
			{Language: "SQL", Driver: "sqlite", DSN: "a"},
			{Language: "SPARQL", Driver: "sqlite", DSN: "b"},
		},
	})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, int32(1), sqlEngine.Closes.Load())
}

func TestAssembler_SQLEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	d := NewDirector(New(nil), NewAssembler(), st)
	t.Cleanup(d.Shutdown)

	raw := fmt.Sprintf(`name: "sales"
engines: [{
	language: "sql"
	driver:   "sqlite3"
	dsn:      %q
	init: ["CREATE TABLE t (v INTEGER)", "INSERT INTO t VALUES (42)"]
}]
`, filepath.Join(t.TempDir(), "sales.db"))
	_, err := d.CreateNewOrReplace(ctx, "sales", config.FormatCUE, []byte(raw))
	require.NoError(t, err)

	e, err := NewRouter(d.Catalog()).Select(command.New(map[string][]string{
		command.ParamSchema:   {"sales"},
		command.ParamLanguage: {"SQL"},
		"query":               {"SELECT v FROM t"},
	}, []string{"text/csv"}, ""))
	require.NoError(t, err)

	inv, err := e.Prepare(command.New(map[string][]string{"query": {"SELECT v FROM t"}}, []string{"text/csv"}, ""))
	require.NoError(t, err)
	var res *engine.StreamedResult
	require.NoError(t, engine.NewRunner(inv).Run(ctx, func(r *engine.StreamedResult) { res = r }))

	var buf bytes.Buffer
	require.NoError(t, res.Write(&buf))
	assert.Equal(t, "v\r\n42\r\n", buf.String())
}
