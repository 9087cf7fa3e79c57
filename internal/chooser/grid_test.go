package chooser

import (
	"testing"

	"sharesheet/internal/types"
)

func TestGridRowsForRankedAndAlphabeticalLists(t *testing.T) {
	f := newChooserFixture(t, alphabetInfos(), newRankComparator("e", "d", "c", "b", "a", "f"), func(opts *Options) {
		opts.Resolver.InitialIntents = []*types.Intent{
			{Action: types.ActionSend, Component: types.NewComponentName("c", ".Share")},
		}
	})
	f.rebuild(t)
	grid := NewGridAdapter(f.adapter, GridOptions{MaxTargetsPerRow: 4})

	if grid.RowCount() != 4 || grid.ItemCount() != 5 {
		t.Fatalf("expected 4 rows plus footer, got %d/%d", grid.RowCount(), grid.ItemCount())
	}
	wantTypes := []ViewType{ViewCallerAndRank, ViewAZLabel, ViewNormal, ViewNormal, ViewFooter}
	for row, want := range wantTypes {
		if got := grid.ItemViewType(row); got != want {
			t.Fatalf("row %d: expected %v, got %v", row, want, got)
		}
	}
	wantRows := map[int][]string{
		0: {"Charlie", "Alpha", "bravo", "delta"},
		1: nil,
		2: {"Alpha", "bravo", "delta", "Echo"},
		3: {"Foxtrot"},
		4: nil,
	}
	for row, want := range wantRows {
		if got := labelsOf(grid.TargetsForRow(row)); !equalStrings(got, want) {
			t.Fatalf("row %d: expected %v, got %v", row, want, got)
		}
	}
}

func TestGridShowsPreviewProfileAndDirectShareRows(t *testing.T) {
	forwarder := shareActivity("android", "Switch to work profile")
	forwarder.TargetUserID = 10
	infos := []*types.ResolveInfo{shareActivity("a", "Echo"), forwarder, shareActivity("b", "delta")}
	f := newChooserFixture(t, infos, newRankComparator("a", "b"), func(opts *Options) {
		opts.DirectShareEnabled = true
	})
	f.rebuild(t)
	target := types.ChooserTarget{Title: "Ann", Component: types.NewComponentName("a", ".Share"), Score: 1}
	f.adapter.AddServiceResults(nil, []types.ChooserTarget{target}, types.TargetTypeChooserService, nil)
	f.adapter.CompleteServiceTargetLoading()

	grid := NewGridAdapter(f.adapter, GridOptions{MaxTargetsPerRow: 4, ShowContentPreview: true})
	wantTypes := []ViewType{ViewContentPreview, ViewProfile, ViewDirectShare, ViewCallerAndRank, ViewFooter}
	if grid.ItemCount() != len(wantTypes) {
		t.Fatalf("expected %d rows, got %d", len(wantTypes), grid.ItemCount())
	}
	for row, want := range wantTypes {
		if got := grid.ItemViewType(row); got != want {
			t.Fatalf("row %d: expected %v, got %v", row, want, got)
		}
	}
	if got := labelsOf(grid.TargetsForRow(2)); !equalStrings(got, []string{"Ann"}) {
		t.Fatalf("unexpected direct share row %v", got)
	}
	if got := labelsOf(grid.TargetsForRow(3)); !equalStrings(got, []string{"Echo", "delta"}) {
		t.Fatalf("unexpected ranked row %v", got)
	}

	tabbed := NewGridAdapter(f.adapter, GridOptions{ShowTabs: true})
	if tabbed.ItemViewType(0) != ViewDirectShare {
		t.Fatalf("expected tabs to hide the profile row")
	}
}
