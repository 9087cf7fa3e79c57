package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"text/tabwriter"
	"time"

	"sharesheet/internal/catalog"
	"sharesheet/internal/config"
	"sharesheet/internal/logging"
	"sharesheet/internal/render"
	"sharesheet/internal/session"
	"sharesheet/internal/store"
	"sharesheet/internal/types"
)

const (
	version            = "dev"
	defaultWaitTimeout = 10 * time.Second
)

// environment is what every chooser command runs against.
type environment struct {
	cfg     config.Config
	catalog *catalog.Catalog
	repo    store.Repository
	logger  logging.Logger
}

func openEnvironment(cfg config.Config, stderr io.Writer) (*environment, error) {
	catalogPath, err := cfg.ResolveCatalogPath()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", catalogPath, err)
	}
	dbPath, err := cfg.ResolveStorageDBPath()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.ResolveStorageDir()
	if err != nil {
		return nil, err
	}
	repo, err := store.OpenRepository(store.RepositoryPaths{Dir: dir, DBPath: dbPath}, cfg.StorageBackend())
	if err != nil {
		return nil, err
	}
	return &environment{
		cfg:     cfg,
		catalog: cat,
		repo:    repo,
		logger:  logging.New(stderr, logging.ParseLevel(cfg.LogLevel())),
	}, nil
}

func (e *environment) Close() error {
	if e == nil || e.repo == nil {
		return nil
	}
	return e.repo.Close()
}

type intentFlags struct {
	action     string
	mimeType   string
	data       string
	text       string
	categories stringList
	extras     stringList
	initial    stringList
	user       int
}

func addIntentFlags(fs *flag.FlagSet) *intentFlags {
	f := &intentFlags{}
	fs.StringVar(&f.action, "action", "send", "intent action: send|send_multiple|view or a full action")
	fs.StringVar(&f.mimeType, "type", "", "mime type of the shared content")
	fs.StringVar(&f.data, "data", "", "data uri")
	fs.StringVar(&f.text, "text", "", "shared text")
	fs.Var(&f.categories, "category", "intent category (repeatable)")
	fs.Var(&f.extras, "extra", "key=value extra (repeatable)")
	fs.Var(&f.initial, "initial", "caller-supplied component pkg/.Class (repeatable)")
	fs.IntVar(&f.user, "user", 0, "profile to open on")
	return f
}

func (f *intentFlags) intent() (*types.Intent, error) {
	return session.ParseIntent(f.action, f.mimeType, f.data, f.text, f.categories, f.extras)
}

func (f *intentFlags) initialIntents(target *types.Intent) ([]*types.Intent, error) {
	var out []*types.Intent
	for _, raw := range f.initial {
		name, err := types.UnflattenComponentName(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --initial %q: %w", raw, err)
		}
		intent := target.Clone()
		intent.Component = name
		out = append(out, intent)
	}
	return out, nil
}

// chooserRun owns an environment plus the session opened on it.
type chooserRun struct {
	env     *environment
	session *session.Session
}

func (r *chooserRun) Close() {
	if r.session != nil {
		_ = r.session.Close()
	}
	_ = r.env.Close()
}

// openChooser loads config, opens the environment and builds a session for
// the intent described by flags. The active tab is rebuilt before return.
func openChooser(ctx context.Context, wiring commandWiring, flags *intentFlags, timeout time.Duration) (*chooserRun, error) {
	intent, err := flags.intent()
	if err != nil {
		return nil, err
	}
	initial, err := flags.initialIntents(intent)
	if err != nil {
		return nil, err
	}
	cfg, err := wiring.loadConfig()
	if err != nil {
		return nil, err
	}
	env, err := wiring.openEnv(cfg, wiring.stderr)
	if err != nil {
		return nil, err
	}
	s, err := session.Open(ctx, session.Options{
		Config:         cfg,
		Catalog:        env.catalog,
		Repository:     env.repo,
		Intent:         intent,
		InitialIntents: initial,
		CurrentUser:    types.UserHandle(flags.user),
		Logger:         env.logger,
	})
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	run := &chooserRun{env: env, session: s}
	if err := rebuildAndWait(ctx, s, timeout); err != nil {
		run.Close()
		return nil, err
	}
	return run, nil
}

func rebuildAndWait(ctx context.Context, s *session.Session, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Rebuild(ctx); err != nil {
		return err
	}
	if err := s.WaitReady(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("chooser not ready after %s", timeout)
		}
		return err
	}
	return nil
}

func printChooser(out io.Writer, s *session.Session, width int) {
	names := s.TabNames()
	if tabs := render.Tabs(names, s.Pager().CurrentPage()); tabs != "" {
		fmt.Fprintln(out, tabs)
	}
	fmt.Fprintln(out, render.Grid(s.Grid(true), render.Options{
		CellWidth: width,
		Preview:   previewText(s.Intent()),
	}))
}

func previewText(intent *types.Intent) string {
	if text, ok := intent.Extras[types.ExtraText].(string); ok && text != "" {
		return text
	}
	return intent.Data
}

func printSelection(out io.Writer, sel session.Selection) {
	writer := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "COMPONENT\tUSER\tKIND\tSHORTCUT")
	shortcut := "-"
	if sel.Shortcut != nil {
		shortcut = sel.Shortcut.ID
	}
	fmt.Fprintf(writer, "%s\t%d\t%s\t%s\n", sel.Component.FlattenToString(), sel.User, sel.Target.Kind, shortcut)
	_ = writer.Flush()
}

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}

	return version
}
