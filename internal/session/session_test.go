package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sharesheet/internal/catalog"
	"sharesheet/internal/chooser"
	"sharesheet/internal/config"
	"sharesheet/internal/store"
	"sharesheet/internal/types"
)

const testCatalog = `
caller:
  uid: 10001
users:
  - id: 0
    name: personal
    forward_to: [10]
  - id: 10
    name: work
packages:
  - name: com.example.mail
    label: Mail
    users: [0, 10]
    activities:
      - class: .Compose
        filters:
          - actions: [android.intent.action.SEND]
            categories: [android.intent.category.DEFAULT]
            types: ["text/*"]
    shortcuts:
      - id: alice
        label: Alice
        rank: 0
        activity: .Compose
  - name: com.example.chat
    label: Chat
    activities:
      - class: .Share
        filters:
          - actions: [android.intent.action.SEND]
            categories: [android.intent.category.DEFAULT]
            types: ["text/plain"]
usage:
  - user: 0
    package: com.example.chat
    launch_count: 12
    foreground_ms: 600000
`

var (
	mailCompose = types.NewComponentName("com.example.mail", ".Compose")
	chatShare   = types.NewComponentName("com.example.chat", ".Share")
)

type fixture struct {
	session *Session
	repo    store.Repository
	intent  *types.Intent
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "packages.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo, err := store.OpenRepository(store.RepositoryPaths{Dir: filepath.Join(dir, "state")}, config.StorageBackendFile)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	intent, err := ParseIntent("send", "text/plain", "", "hello", nil, nil)
	if err != nil {
		t.Fatalf("parse intent: %v", err)
	}
	opts := Options{
		Config:     config.Default(),
		Catalog:    cat,
		Repository: repo,
		Intent:     intent,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{session: s, repo: repo, intent: intent}
}

func (f *fixture) rebuild(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.session.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := f.session.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
}

func positionOf(t *testing.T, adapter *chooser.ListAdapter, kind chooser.PositionType, name types.ComponentName) int {
	t.Helper()
	for pos := 0; pos < adapter.Count(); pos++ {
		if adapter.PositionTargetType(pos) != kind {
			continue
		}
		target, ok := adapter.TargetInfoForPosition(pos, true)
		if !ok {
			continue
		}
		if info := target.ResolveInfo(); info != nil && info.ComponentName() == name {
			return pos
		}
	}
	t.Fatalf("no %v position for %v", kind, name)
	return -1
}

func TestOpenBuildsOneTabPerProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.rebuild(t)

	names := f.session.TabNames()
	if len(names) != 2 || names[0] != "personal" || names[1] != "work" {
		t.Fatalf("unexpected tabs %v", names)
	}
	active := f.session.Active()
	if active.User() != 0 {
		t.Fatalf("expected personal tab active, got %v", active.User())
	}
	if got := active.UnfilteredCount(); got != 2 {
		t.Fatalf("expected mail and chat, got %d entries", got)
	}
	positionOf(t, active, chooser.PositionStandard, chatShare)
	if active.OtherProfile() == nil {
		t.Fatalf("expected a profile switch entry")
	}
	if active.ServiceTargetCount() == 0 {
		t.Fatalf("expected direct share rows once loading completed")
	}
	if _, ok := f.session.AutoLaunch(context.Background()); ok {
		t.Fatalf("did not expect auto launch with two apps")
	}
	stats, err := f.repo.Usage().QueryUsageStats(context.Background(), 0)
	if err != nil {
		t.Fatalf("query usage: %v", err)
	}
	if stats["com.example.chat"] == nil || stats["com.example.chat"].LaunchCount != 12 {
		t.Fatalf("expected catalog usage seeded, got %v", stats)
	}
}

func TestChooseRecordsLastChosen(t *testing.T) {
	f := newFixture(t, nil)
	f.rebuild(t)

	pos := positionOf(t, f.session.Active(), chooser.PositionStandard, mailCompose)
	sel, err := f.session.Choose(context.Background(), pos, 0)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if sel.Component != mailCompose || sel.Intent == nil || sel.Intent.Component != mailCompose {
		t.Fatalf("unexpected selection %#v", sel)
	}
	if sel.Intent.Extras[types.ExtraText] != "hello" {
		t.Fatalf("expected shared text to be carried, got %v", sel.Intent.Extras)
	}
	got, ok, err := f.repo.Chosen().LastChosen(context.Background(), 0, f.intent.Signature())
	if err != nil || !ok || got != mailCompose {
		t.Fatalf("expected mail recorded as last chosen, got %v ok=%v err=%v", got, ok, err)
	}
	stats, err := f.repo.Usage().QueryUsageStats(context.Background(), 0)
	if err != nil {
		t.Fatalf("query usage: %v", err)
	}
	if mail := stats["com.example.mail"]; mail == nil || mail.LaunchCount != 1 {
		t.Fatalf("expected one recorded launch for mail, got %#v", mail)
	}
}

func TestChooseDirectShareTarget(t *testing.T) {
	f := newFixture(t, nil)
	f.rebuild(t)

	active := f.session.Active()
	pos := -1
	for i := 0; i < active.Count(); i++ {
		if active.PositionTargetType(i) == chooser.PositionService {
			pos = i
			break
		}
	}
	if pos < 0 {
		t.Fatalf("expected a direct share position")
	}
	sel, err := f.session.Choose(context.Background(), pos, 0)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if sel.Target.Kind != types.KindSelectable || sel.Component != mailCompose {
		t.Fatalf("unexpected direct share selection %#v", sel)
	}
	if sel.Shortcut == nil || sel.Shortcut.ID != "alice" {
		t.Fatalf("expected alice shortcut, got %#v", sel.Shortcut)
	}
}

func TestChooseRejectsBadPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.rebuild(t)
	if _, err := f.session.Choose(context.Background(), 99, 0); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("expected ErrNotSelectable, got %v", err)
	}
}

func TestAutoLaunchSingleWorkApp(t *testing.T) {
	f := newFixture(t, func(opts *Options) {
		opts.Users = []types.UserHandle{10}
		opts.CurrentUser = 10
	})
	f.rebuild(t)
	sel, ok := f.session.AutoLaunch(context.Background())
	if !ok {
		t.Fatalf("expected auto launch for the only work app")
	}
	if sel.Component != mailCompose || sel.User != 10 {
		t.Fatalf("unexpected auto launch %#v", sel)
	}
}

func TestSetPinnedPersistsAndReorders(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.SetPinned(context.Background(), mailCompose, true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	pinned, err := f.repo.Pins().IsPinned(context.Background(), 0, mailCompose)
	if err != nil || !pinned {
		t.Fatalf("expected mail pinned, got %v err=%v", pinned, err)
	}
	f.rebuild(t)
	target, ok := f.session.Active().TargetInfoForPosition(positionOf(t, f.session.Active(), chooser.PositionStandard, mailCompose), true)
	if !ok || target.Display == nil || !target.Display.Pinned {
		t.Fatalf("expected mail shown pinned")
	}
}

func TestSetCurrentTabRebuildsWorkTab(t *testing.T) {
	f := newFixture(t, nil)
	f.rebuild(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.session.SetCurrentTab(ctx, 1); err != nil {
		t.Fatalf("set tab: %v", err)
	}
	if err := f.session.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if f.session.Active().User() != 10 || f.session.Active().UnfilteredCount() != 1 {
		t.Fatalf("expected work tab with mail only")
	}
	if f.session.Grid(false).ItemViewType(0) == chooser.ViewProfile {
		t.Fatalf("expected tabs to replace the profile row")
	}
}

func TestParseIntent(t *testing.T) {
	intent, err := ParseIntent("view", "", "https://docs.example.com/d/1", "", []string{"android.intent.category.BROWSABLE"}, []string{"source=cli"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if intent.Action != types.ActionView || intent.Data != "https://docs.example.com/d/1" {
		t.Fatalf("unexpected intent %#v", intent)
	}
	if len(intent.Categories) != 1 || intent.Extras["source"] != "cli" {
		t.Fatalf("unexpected categories or extras %#v", intent)
	}
	if _, err := ParseIntent("send", "", "", "hi", nil, nil); err == nil {
		t.Fatalf("expected send without type to fail")
	}
	if _, err := ParseIntent("send", "text/plain", "", "", nil, []string{"broken"}); err == nil {
		t.Fatalf("expected malformed extra to fail")
	}
}
