package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sharesheet/internal/types"
)

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load(filepath.Join("testdata", "packages.yaml"))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func sendText() *types.Intent {
	return &types.Intent{Action: types.ActionSend, Type: "text/plain", Categories: []string{types.CategoryDefault}}
}

func componentNames(infos []*types.ResolveInfo) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.ComponentName().FlattenToString())
	}
	return out
}

func TestQueryIntentActivitiesMatchesTypesAndSortsByPriority(t *testing.T) {
	c := loadTestCatalog(t)
	infos, err := c.QueryIntentActivities(context.Background(), sendText(), 0, types.MatchDefaultOnly)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := componentNames(infos)
	want := []string{
		"com.example.mail/com.example.mail.Compose",
		"com.example.chat/com.example.chat.Share",
		"com.example.legacy/com.example.legacy.Send",
		"android/com.android.internal.app.IntentForwarderActivity",
		"com.example.notes/com.example.notes.Import",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	last := infos[len(infos)-1]
	if last.Priority != -1 || last.Activity.Permission != "com.example.permission.NOTES" {
		t.Fatalf("unexpected notes resolve info: %#v", last)
	}
	if !infos[2].Activity.Suspended {
		t.Fatalf("expected legacy activity to be reported suspended")
	}
}

func TestQueryIntentActivitiesForwardsToOtherProfile(t *testing.T) {
	c := loadTestCatalog(t)
	infos, err := c.QueryIntentActivities(context.Background(), sendText(), 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var forwarder *types.ResolveInfo
	for _, info := range infos {
		if info.IsOtherProfile() {
			if forwarder != nil {
				t.Fatalf("expected a single other-profile candidate")
			}
			forwarder = info
		}
	}
	if forwarder == nil {
		t.Fatalf("expected a forwarder candidate")
	}
	if forwarder.TargetUserID != 10 || forwarder.UserHandle == nil || *forwarder.UserHandle != 0 {
		t.Fatalf("unexpected forwarder target: %#v", forwarder)
	}
	if forwarder.Activity.Label != "Switch to work profile" {
		t.Fatalf("unexpected forwarder label %q", forwarder.Activity.Label)
	}

	work, err := c.QueryIntentActivities(context.Background(), sendText(), 10, 0)
	if err != nil {
		t.Fatalf("query work: %v", err)
	}
	if got := componentNames(work); len(got) != 1 || got[0] != "com.example.mail/com.example.mail.Compose" {
		t.Fatalf("expected only mail for work profile, got %v", got)
	}
}

func TestQueryIntentActivitiesHTTPMatchCategories(t *testing.T) {
	c := loadTestCatalog(t)
	intent := &types.Intent{
		Action:     types.ActionView,
		Data:       "https://docs.example.com/d/123",
		Categories: []string{types.CategoryBrowser},
	}
	infos, err := c.QueryIntentActivities(context.Background(), intent, 0, types.MatchDefaultOnly)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	byPackage := map[string]*types.ResolveInfo{}
	for _, info := range infos {
		byPackage[info.ComponentName().Package] = info
	}
	docs, browser := byPackage["com.example.docs"], byPackage["com.example.browser"]
	if docs == nil || browser == nil {
		t.Fatalf("expected docs and browser, got %v", componentNames(infos))
	}
	if !types.IsSpecificURIMatch(docs.Match) {
		t.Fatalf("expected a path match for docs, got %#x", docs.Match)
	}
	if types.IsSpecificURIMatch(browser.Match) {
		t.Fatalf("expected a scheme-only match for browser, got %#x", browser.Match)
	}

	other := &types.Intent{Action: types.ActionView, Data: "https://example.org/", Categories: []string{types.CategoryBrowser}}
	infos, err = c.QueryIntentActivities(context.Background(), other, 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := componentNames(infos); len(got) != 1 || got[0] != "com.example.browser/com.example.browser.Main" {
		t.Fatalf("expected only browser, got %v", got)
	}
}

func TestQueryIntentActivitiesExplicitAndUnknownUser(t *testing.T) {
	c := loadTestCatalog(t)
	explicit := &types.Intent{Component: types.NewComponentName("com.example.chat", ".Share")}
	infos, err := c.QueryIntentActivities(context.Background(), explicit, 0, 0)
	if err != nil || len(infos) != 1 {
		t.Fatalf("expected explicit match, got %v err=%v", componentNames(infos), err)
	}
	if _, err := c.QueryIntentActivities(context.Background(), sendText(), 99, 0); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestMatchMimeTypeWildcards(t *testing.T) {
	cases := []struct {
		patterns []string
		mime     string
		want     bool
	}{
		{[]string{"text/*"}, "text/plain", true},
		{[]string{"text/*"}, "image/png", false},
		{[]string{"*/*"}, "application/pdf", true},
		{[]string{"image/png"}, "image/*", true},
		{[]string{"text/plain"}, "*/*", true},
		{[]string{"text/plain"}, "text/html", false},
	}
	for _, tc := range cases {
		if got := matchMimeType(tc.patterns, tc.mime); got != tc.want {
			t.Fatalf("matchMimeType(%v, %q) = %v, want %v", tc.patterns, tc.mime, got, tc.want)
		}
	}
}

func TestPresentationAndShortcuts(t *testing.T) {
	c := loadTestCatalog(t)
	ctx := context.Background()
	infos, err := c.QueryIntentActivities(ctx, sendText(), 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	mail := infos[0]
	label, sub, err := c.LoadLabel(ctx, mail)
	if err != nil || label != "Compose" || sub != "Mail" {
		t.Fatalf("unexpected label %q/%q err=%v", label, sub, err)
	}
	icon, err := c.LoadIcon(ctx, mail)
	if err != nil || icon != "mail.png" {
		t.Fatalf("unexpected icon %q err=%v", icon, err)
	}
	chat := infos[1]
	if _, err := c.LoadIcon(ctx, &types.ResolveInfo{Activity: types.ActivityInfo{Name: chat.ComponentName()}}); !errors.Is(err, ErrIconNotFound) {
		t.Fatalf("expected ErrIconNotFound for chat, got %v", err)
	}

	shortcuts, err := c.QueryShareShortcuts(ctx, 0, sendText())
	if err != nil {
		t.Fatalf("shortcuts: %v", err)
	}
	if len(shortcuts) != 2 || shortcuts[1].Info.ID != "bob" || !shortcuts[1].Info.Pinned {
		t.Fatalf("unexpected shortcuts %#v", shortcuts)
	}
	images, err := c.QueryShareShortcuts(ctx, 0, &types.Intent{Action: types.ActionSend, Type: "image/png"})
	if err != nil || len(images) != 1 || images[0].Info.ID != "bob" {
		t.Fatalf("expected only bob for images, got %#v err=%v", images, err)
	}
}

func TestSeedUsageAndPermissions(t *testing.T) {
	c := loadTestCatalog(t)
	seeded := c.SeedUsage(0)
	if len(seeded) != 1 || seeded[0].LaunchCount != 12 || seeded[0].ChooserCount(types.ActionSend, "text/plain") != 4 {
		t.Fatalf("unexpected seeded usage %#v", seeded)
	}
	if !c.CheckPermission("com.example.permission.SHARE") || c.CheckPermission("com.example.permission.NOTES") {
		t.Fatalf("unexpected permission checks")
	}
	if c.UserName(10) != "work" || c.UserName(42) != "42" {
		t.Fatalf("unexpected user names")
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.yaml")
	if err := os.WriteFile(path, []byte("packages:\n  - name: a.b\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(path, []byte("packages:\n  - name: a.b\n  - name: a.b\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Reload(); !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected ErrInvalidCatalog, got %v", err)
	}
	if _, err := Parse([]byte("packages: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}
