package extension

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bram-dingelstad/helix/config"
	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/platform"
	"github.com/bram-dingelstad/helix/pubsub"
	"github.com/bram-dingelstad/helix/sdk"
	"github.com/bram-dingelstad/helix/transfer"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDir = "/ext"

func libPath(name string) string {
	return filepath.Join(testDir, platform.NormalizeName(name)+".so")
}

// fixture builds a registry over in-memory libraries keyed by extension name.
func fixture(t *testing.T, libs map[string]StaticLibrary, descs []config.Descriptor, opts ...Option) *Registry {
	t.Helper()
	opener := StaticOpener{}
	for name, lib := range libs {
		opener[libPath(name)] = lib
	}
	opts = append([]Option{
		WithOpener(opener),
		WithDir(testDir),
		WithPlatform(platform.Linux),
	}, opts...)
	r, err := New(config.Static(descs...), opts...)
	require.NoError(t, err)
	return r
}

func desc(name string) config.Descriptor {
	return config.Descriptor{Name: name, Config: config.Section{}}
}

// hookLib returns a library exporting only RegisterEventHook bound to hook.
func hookLib(hook *sdk.Hook) StaticLibrary {
	return StaticLibrary{sdk.SymbolRegisterEventHook: sdk.RegisterEventHookFunc(hook.Register)}
}

// drain applies every pending callback and returns how many ran.
func drain(t *testing.T, r *Registry, ed *editor.Editor) int {
	t.Helper()
	n := 0
	for {
		cb, ok := r.NextCallback()
		if !ok {
			return n
		}
		require.NoError(t, r.Apply(cb, ed))
		n++
	}
}

func TestNew_Empty(t *testing.T) {
	r := fixture(t, nil, nil)

	assert.Zero(t, r.Len())
	assert.Empty(t, r.ListCommands())
	_, ok := r.NextCallback()
	assert.False(t, ok)
	assert.NoError(t, r.DeinitAll(editor.NewContext(editor.New(), 1)))
}

func TestNew_SourceError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(config.SourceFunc(func() ([]config.Descriptor, error) { return nil, boom }))
	require.ErrorIs(t, err, boom)
}

func TestNew_LoadFailureIsIsolated(t *testing.T) {
	r := fixture(t,
		map[string]StaticLibrary{"present": {}},
		[]config.Descriptor{desc("missing"), desc("present")},
	)

	require.Equal(t, 1, r.Len())
	assert.Equal(t, "present", r.Extensions()[0].Name())

	failures := r.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "missing", failures[0].Name)
	assert.Equal(t, StageOpen, failures[0].Stage)
	assert.Equal(t, libPath("missing"), failures[0].Path)
	assert.ErrorIs(t, failures[0], ErrLibraryLoad)
	assert.ErrorIs(t, failures[0], fs.ErrNotExist)
}

func TestNew_DuplicateName(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
	}{
		{"identical", "dup", "dup"},
		{"dash and underscore", "dark-mode", "dark_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inits := 0
			var hook sdk.Hook
			lib := hookLib(&hook)
			lib[sdk.SymbolInit] = sdk.InitFunc(func(config.Section) error {
				inits++
				return nil
			})

			r := fixture(t,
				map[string]StaticLibrary{tt.first: lib},
				[]config.Descriptor{desc(tt.first), desc(tt.second)},
			)

			require.Equal(t, 1, r.Len())
			assert.Equal(t, tt.first, r.Extensions()[0].Name())
			assert.Equal(t, 1, inits)
			require.Len(t, r.Failures(), 1)
			assert.Equal(t, tt.second, r.Failures()[0].Name)
			assert.Equal(t, StageConfig, r.Failures()[0].Stage)
			assert.ErrorIs(t, r.Failures()[0], ErrDuplicateName)

			// the surviving extension still owns the submission function
			require.NoError(t, hook.Queue(func(*editor.Editor) {}))
			ext, ok := r.Extension(tt.second)
			require.True(t, ok)
			assert.Equal(t, 1, ext.Pending())
		})
	}
}

func TestNew_LoadsInConfigurationOrder(t *testing.T) {
	names := []string{"zeta", "alpha", "mid-point", "beta"}
	libs := map[string]StaticLibrary{}
	var descs []config.Descriptor
	for _, n := range names {
		libs[n] = StaticLibrary{}
		descs = append(descs, desc(n))
	}

	r := fixture(t, libs, descs)

	require.Empty(t, r.Failures())
	var got []string
	for _, ext := range r.Extensions() {
		got = append(got, ext.Name())
	}
	assert.Equal(t, names, got)
}

func TestNew_UnsupportedPlatform(t *testing.T) {
	r := fixture(t,
		map[string]StaticLibrary{"a": {}},
		[]config.Descriptor{desc("a")},
		WithPlatform(platform.Unknown),
	)

	assert.Zero(t, r.Len())
	require.Len(t, r.Failures(), 1)
	assert.ErrorIs(t, r.Failures()[0], platform.ErrUnsupported)
}

func TestNew_InitReceivesConfigSection(t *testing.T) {
	var got config.Section
	lib := StaticLibrary{
		sdk.SymbolInit: sdk.InitFunc(func(cfg config.Section) error {
			got = cfg
			return nil
		}),
	}
	section := config.Section{"dark_theme": "onedark", "poll": config.Section{"interval": int64(5)}}

	r := fixture(t,
		map[string]StaticLibrary{"auto-dark-mode": lib},
		[]config.Descriptor{{Name: "auto-dark-mode", Config: section}},
	)

	require.Equal(t, 1, r.Len())
	assert.Equal(t, section, got)
	assert.Equal(t, libPath("auto-dark-mode"), r.Extensions()[0].Path())
	assert.Equal(t, filepath.Join(testDir, "auto_dark_mode.so"), r.Extensions()[0].Path())
}

func TestNew_InitFailureExcludesExtension(t *testing.T) {
	var hook sdk.Hook
	var queuedDuringInit error
	runs := 0
	lib := hookLib(&hook)
	lib[sdk.SymbolInit] = sdk.InitFunc(func(config.Section) error {
		queuedDuringInit = hook.Queue(func(ed *editor.Editor) {
			runs++
			ed.SetStatus("accepted before failure")
		})
		return sdk.ErrMissingField
	})

	r := fixture(t,
		map[string]StaticLibrary{"broken": lib},
		[]config.Descriptor{desc("broken")},
	)

	assert.Zero(t, r.Len())
	_, ok := r.Extension("broken")
	assert.False(t, ok)
	require.Len(t, r.Failures(), 1)
	assert.Equal(t, StageInit, r.Failures()[0].Stage)
	assert.ErrorIs(t, r.Failures()[0], ErrInitFailed)
	assert.ErrorIs(t, r.Failures()[0], sdk.ErrMissingField)

	// the submission was accepted, so it still runs exactly once
	require.NoError(t, queuedDuringInit)
	ed := editor.New()
	assert.Equal(t, 1, drain(t, r, ed))
	assert.Equal(t, 1, runs)
	assert.Equal(t, "accepted before failure", ed.Status())

	// nothing new is accepted afterwards
	assert.ErrorIs(t, hook.Queue(func(*editor.Editor) {}), ErrQueueClosed)
	_, ok = r.NextCallback()
	assert.False(t, ok)
}

func TestNextCallback_FailedExtensionDrainsLast(t *testing.T) {
	var good, bad sdk.Hook
	badLib := hookLib(&bad)
	badLib[sdk.SymbolInit] = sdk.InitFunc(func(config.Section) error {
		if err := bad.Queue(func(ed *editor.Editor) { ed.Insert("b", 1) }); err != nil {
			return err
		}
		return errors.New("init failed")
	})

	r := fixture(t,
		map[string]StaticLibrary{"bad": badLib, "good": hookLib(&good)},
		[]config.Descriptor{desc("bad"), desc("good")},
	)
	require.NoError(t, good.Queue(func(ed *editor.Editor) { ed.Insert("g", 1) }))

	ed := editor.New()
	assert.Equal(t, 2, drain(t, r, ed))
	assert.Equal(t, "gb", ed.Text())
}

func TestNew_InitPanicIsRecovered(t *testing.T) {
	lib := StaticLibrary{
		sdk.SymbolInit: sdk.InitFunc(func(config.Section) error { panic("bad init") }),
	}
	r := fixture(t,
		map[string]StaticLibrary{"p": lib, "ok": {}},
		[]config.Descriptor{desc("p"), desc("ok")},
	)

	assert.Equal(t, 1, r.Len())
	require.Len(t, r.Failures(), 1)
	assert.ErrorIs(t, r.Failures()[0], ErrEntryPointPanic)
}

func TestNew_HandshakePrecedesInit(t *testing.T) {
	var hook sdk.Hook
	lib := hookLib(&hook)
	lib[sdk.SymbolInit] = sdk.InitFunc(func(config.Section) error {
		return hook.Queue(func(ed *editor.Editor) { ed.SetStatus("ready") })
	})

	r := fixture(t,
		map[string]StaticLibrary{"early": lib},
		[]config.Descriptor{desc("early")},
	)
	require.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Extensions()[0].Pending())

	ed := editor.New()
	assert.Equal(t, 1, drain(t, r, ed))
	assert.Equal(t, "ready", ed.Status())
}

func TestNew_WrongSymbolType(t *testing.T) {
	lib := StaticLibrary{sdk.SymbolInit: func() {}}
	r := fixture(t,
		map[string]StaticLibrary{"typed": lib},
		[]config.Descriptor{desc("typed")},
	)

	assert.Zero(t, r.Len())
	require.Len(t, r.Failures(), 1)
	assert.Equal(t, StageOpen, r.Failures()[0].Stage)
	assert.ErrorIs(t, r.Failures()[0], ErrSymbolType)
}

func TestNew_SymbolAsVariable(t *testing.T) {
	called := false
	var initVar sdk.InitFunc = func(config.Section) error {
		called = true
		return nil
	}
	var nilRender sdk.RenderFunc
	lib := StaticLibrary{
		sdk.SymbolInit:   &initVar,
		sdk.SymbolRender: &nilRender,
	}

	r := fixture(t,
		map[string]StaticLibrary{"vars": lib},
		[]config.Descriptor{desc("vars")},
	)

	require.Equal(t, 1, r.Len())
	assert.True(t, called)
	caps := r.Extensions()[0].Capabilities()
	assert.True(t, caps.Has(CapInit))
	assert.False(t, caps.Has(CapRender), "a nil function variable is not a capability")
}

func TestListCommands_Order(t *testing.T) {
	cmds := func(names ...string) sdk.RegisterCommandsFunc {
		return func() []sdk.Command {
			var out []sdk.Command
			for _, n := range names {
				out = append(out, sdk.Command{Name: n, Fn: func(*editor.Context) {}})
			}
			return out
		}
	}
	first := StaticLibrary{sdk.SymbolRegisterCommands: cmds("a", "b")}
	second := StaticLibrary{sdk.SymbolRegisterCommands: func() []sdk.Command {
		return append(cmds("c")(), sdk.Command{Name: "incomplete"}, sdk.Command{Fn: func(*editor.Context) {}})
	}}
	panics := StaticLibrary{sdk.SymbolRegisterCommands: sdk.RegisterCommandsFunc(func() []sdk.Command { panic("x") })}

	r := fixture(t,
		map[string]StaticLibrary{"first": first, "second": second, "panics": panics, "none": {}},
		[]config.Descriptor{desc("first"), desc("panics"), desc("none"), desc("second")},
	)

	var names []string
	for _, c := range r.ListCommands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestCommand_Invoke(t *testing.T) {
	lib := StaticLibrary{
		sdk.SymbolRegisterCommands: sdk.RegisterCommandsFunc(func() []sdk.Command {
			return []sdk.Command{{
				Name: "hello_world",
				Doc:  "inserts a greeting",
				Fn: func(ctx *editor.Context) {
					ctx.Editor.Insert("hello world", ctx.Count())
				},
			}}
		}),
	}
	r := fixture(t, map[string]StaticLibrary{"hello": lib}, []config.Descriptor{desc("hello")})

	cmd, ok := r.Command("hello_world")
	require.True(t, ok)
	assert.Equal(t, "inserts a greeting", cmd.Doc)

	ed := editor.New()
	cmd.Fn(editor.NewContext(ed, 2))
	assert.Equal(t, "hello worldhello world", ed.Text())

	_, ok = r.Command("missing")
	assert.False(t, ok)
}

func TestNextCallback_ExtensionOrderThenFIFO(t *testing.T) {
	var h1, h2 sdk.Hook
	r := fixture(t,
		map[string]StaticLibrary{"one": hookLib(&h1), "two": hookLib(&h2)},
		[]config.Descriptor{desc("one"), desc("two")},
	)

	ed := editor.New()
	push := func(h *sdk.Hook, s string) {
		require.NoError(t, h.Queue(func(ed *editor.Editor) { ed.Insert(s, 1) }))
	}
	push(&h2, "x")
	push(&h1, "a")
	push(&h1, "b")
	push(&h2, "y")

	assert.Equal(t, 4, drain(t, r, ed))
	assert.Equal(t, "abxy", ed.Text())
}

func TestNextCallback_LIFO(t *testing.T) {
	var hook sdk.Hook
	r := fixture(t,
		map[string]StaticLibrary{"one": hookLib(&hook)},
		[]config.Descriptor{desc("one")},
		WithPolicy(LIFO),
	)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, hook.Queue(func(ed *editor.Editor) { ed.Insert(s, 1) }))
	}
	ed := editor.New()
	drain(t, r, ed)
	assert.Equal(t, "cba", ed.Text())
}

func TestNextCallback_TicketDeliveredOnce(t *testing.T) {
	var submit sdk.Submit
	lib := StaticLibrary{
		sdk.SymbolRegisterEventHook: sdk.RegisterEventHookFunc(func(s sdk.Submit) { submit = s }),
	}
	r := fixture(t, map[string]StaticLibrary{"one": lib}, []config.Descriptor{desc("one")})
	require.NotNil(t, submit)

	runs := 0
	ticket := transfer.Give[sdk.Callback](func(*editor.Editor) { runs++ })
	require.NoError(t, submit(ticket))
	require.NoError(t, submit(ticket))
	assert.ErrorIs(t, submit(nil), ErrNilTicket)

	assert.Equal(t, 1, drain(t, r, editor.New()))
	assert.Equal(t, 1, runs)
}

func TestNextCallback_ConcurrentSubmissions(t *testing.T) {
	const producers, perProducer = 8, 100

	hooks := make([]sdk.Hook, 2)
	r := fixture(t,
		map[string]StaticLibrary{"a": hookLib(&hooks[0]), "b": hookLib(&hooks[1])},
		[]config.Descriptor{desc("a"), desc("b")},
	)

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(h *sdk.Hook) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				assert.NoError(t, h.Queue(func(*editor.Editor) { ran.Add(1) }))
			}
		}(&hooks[i%2])
	}

	// drain concurrently with the producers
	ed := editor.New()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	drained := 0
	for {
		select {
		case <-done:
			drained += drain(t, r, ed)
			assert.Equal(t, producers*perProducer, drained)
			assert.Equal(t, int64(producers*perProducer), ran.Load())
			return
		default:
			if cb, ok := r.NextCallback(); ok {
				require.NoError(t, r.Apply(cb, ed))
				drained++
			}
		}
	}
}

func TestApply_PanicIsRecovered(t *testing.T) {
	r := fixture(t, nil, nil)
	err := r.Apply(func(*editor.Editor) { panic("callback") }, editor.New())
	assert.ErrorIs(t, err, ErrCallbackPanic)
	assert.NoError(t, r.Apply(nil, editor.New()))
}

func TestRenderAll(t *testing.T) {
	var frames []uint64
	ok := StaticLibrary{sdk.SymbolRender: sdk.RenderFunc(func(rc *editor.RenderContext) { frames = append(frames, rc.Frame) })}
	bad := StaticLibrary{sdk.SymbolRender: sdk.RenderFunc(func(*editor.RenderContext) { panic("render") })}

	r := fixture(t,
		map[string]StaticLibrary{"ok": ok, "bad": bad},
		[]config.Descriptor{desc("bad"), desc("ok")},
	)

	err := r.RenderAll(&editor.RenderContext{Editor: editor.New(), Frame: 7})
	assert.ErrorIs(t, err, ErrEntryPointPanic)
	assert.Equal(t, []uint64{7}, frames)
}

func TestDeinitAll(t *testing.T) {
	var order []string
	deinit := func(name string, err error) sdk.DeinitFunc {
		return func(*editor.Context) error {
			order = append(order, name)
			return err
		}
	}
	boom := errors.New("boom")

	var hook sdk.Hook
	third := hookLib(&hook)
	third[sdk.SymbolDeinit] = deinit("third", nil)

	r := fixture(t,
		map[string]StaticLibrary{
			"first":  {sdk.SymbolDeinit: deinit("first", nil)},
			"second": {sdk.SymbolDeinit: deinit("second", boom)},
			"third":  third,
			"plain":  {},
		},
		[]config.Descriptor{desc("first"), desc("second"), desc("plain"), desc("third")},
	)

	require.NoError(t, hook.Queue(func(ed *editor.Editor) { ed.Insert("late", 1) }))

	ctx := editor.NewContext(editor.New(), 1)
	err := r.DeinitAll(ctx)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, []string{"first", "second", "third"}, order)

	// no second run
	assert.NoError(t, r.DeinitAll(ctx))
	assert.Equal(t, []string{"first", "second", "third"}, order)

	// queued work survives, new work is refused
	assert.ErrorIs(t, hook.Queue(func(*editor.Editor) {}), ErrQueueClosed)
	assert.Equal(t, 1, drain(t, r, ctx.Editor))
	assert.Equal(t, "late", ctx.Editor.Text())
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.New()
	defer broker.Close()

	var mu sync.Mutex
	got := map[string][]Event{}
	for _, topic := range []string{TopicLoaded, TopicFailed, TopicCallback, TopicDeinit} {
		_, err := broker.Subscribe(ctx, topic, func(_ context.Context, msg *pubsub.Message) {
			var ev Event
			require.NoError(t, msg.Decode(&ev))
			mu.Lock()
			got[msg.Topic] = append(got[msg.Topic], ev)
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	var hook sdk.Hook
	r := fixture(t,
		map[string]StaticLibrary{"good": hookLib(&hook)},
		[]config.Descriptor{desc("good"), desc("gone")},
		WithBroker(broker),
	)
	require.NoError(t, hook.Queue(func(*editor.Editor) {}))
	require.NoError(t, r.DeinitAll(editor.NewContext(editor.New(), 1)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got[TopicLoaded], 1)
	assert.Equal(t, "good", got[TopicLoaded][0].Extension)
	assert.Equal(t, "event_hook", got[TopicLoaded][0].Capabilities)
	require.Len(t, got[TopicFailed], 1)
	assert.Equal(t, "gone", got[TopicFailed][0].Extension)
	assert.Equal(t, StageOpen, got[TopicFailed][0].Stage)
	require.Len(t, got[TopicCallback], 1)
	assert.NotEmpty(t, got[TopicCallback][0].Ticket)
	require.Len(t, got[TopicDeinit], 1)
	assert.Empty(t, got[TopicDeinit][0].Error)
}

func TestEvents_UnresponsiveBackendIsBounded(t *testing.T) {
	// accepts connections and never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	var conns []net.Conn
	var connsMu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			connsMu.Lock()
			conns = append(conns, c)
			connsMu.Unlock()
		}
	}()
	defer func() {
		connsMu.Lock()
		defer connsMu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}()

	client := redis.NewClient(&redis.Options{
		Addr:                  ln.Addr().String(),
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
		ReadTimeout:           time.Minute,
		WriteTimeout:          time.Minute,
	})
	defer client.Close()
	broker := pubsub.New(pubsub.WithRedisClient(client))
	defer broker.Close()

	var hook sdk.Hook
	start := time.Now()
	r := fixture(t,
		map[string]StaticLibrary{"one": hookLib(&hook)},
		[]config.Descriptor{desc("one")},
		WithBroker(broker),
	)
	require.NoError(t, hook.Queue(func(*editor.Editor) {}))
	require.NoError(t, r.DeinitAll(editor.NewContext(editor.New(), 1)))

	// loaded, callback and deinit events each give up after eventTimeout
	assert.Less(t, time.Since(start), 3*eventTimeout+5*time.Second)
	assert.Equal(t, 1, drain(t, r, editor.New()))
}
