package chooser

import "sharesheet/internal/types"

// ViewType is the kind of a grid row.
type ViewType int

const (
	ViewDirectShare ViewType = iota
	ViewNormal
	ViewContentPreview
	ViewProfile
	ViewAZLabel
	ViewCallerAndRank
	ViewFooter
)

func (v ViewType) String() string {
	switch v {
	case ViewDirectShare:
		return "direct_share"
	case ViewNormal:
		return "normal"
	case ViewContentPreview:
		return "content_preview"
	case ViewProfile:
		return "profile"
	case ViewAZLabel:
		return "az_label"
	case ViewCallerAndRank:
		return "caller_and_rank"
	case ViewFooter:
		return "footer"
	default:
		return "unknown"
	}
}

const DefaultMaxTargetsPerRow = 4

type GridOptions struct {
	MaxTargetsPerRow   int
	ShowContentPreview bool
	// ShowTabs hides the profile row; the tabs switch profiles instead.
	ShowTabs bool
}

// GridAdapter lays a chooser adapter out in rows: content preview, profile
// switch, direct share, caller and ranked targets, the A-Z label and list,
// then a footer.
type GridAdapter struct {
	adapter *ListAdapter
	perRow  int
	preview bool
	tabs    bool
}

func NewGridAdapter(adapter *ListAdapter, opts GridOptions) *GridAdapter {
	perRow := opts.MaxTargetsPerRow
	if perRow <= 0 {
		perRow = DefaultMaxTargetsPerRow
	}
	return &GridAdapter{adapter: adapter, perRow: perRow, preview: opts.ShowContentPreview, tabs: opts.ShowTabs}
}

func (g *GridAdapter) Adapter() *ListAdapter { return g.adapter }

func (g *GridAdapter) MaxTargetsPerRow() int { return g.perRow }

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func (g *GridAdapter) systemRowCount() int {
	if !g.preview || g.adapter.Count() == 0 {
		return 0
	}
	return 1
}

func (g *GridAdapter) profileRowCount() int {
	if g.tabs || g.adapter.OtherProfile() == nil {
		return 0
	}
	return 1
}

func (g *GridAdapter) serviceTargetRowCount() int {
	if g.adapter.directShareApplies() {
		return 1
	}
	return 0
}

func (g *GridAdapter) callerAndRankedRowCount() int {
	return ceilDiv(g.adapter.CallerTargetCount()+g.adapter.RankedTargetCount(), g.perRow)
}

func (g *GridAdapter) azLabelRowCount() int {
	if g.adapter.AlphaTargetCount() > 0 {
		return 1
	}
	return 0
}

func (g *GridAdapter) alphaRowCount() int {
	return ceilDiv(g.adapter.AlphaTargetCount(), g.perRow)
}

// RowCount is the number of rows without the footer.
func (g *GridAdapter) RowCount() int {
	return g.systemRowCount() + g.profileRowCount() + g.serviceTargetRowCount() +
		g.callerAndRankedRowCount() + g.azLabelRowCount() + g.alphaRowCount()
}

// ItemCount is the number of rows including the footer.
func (g *GridAdapter) ItemCount() int {
	return g.RowCount() + 1
}

func (g *GridAdapter) ItemViewType(row int) ViewType {
	count := g.systemRowCount()
	sum := count
	if count > 0 && row < sum {
		return ViewContentPreview
	}
	count = g.profileRowCount()
	sum += count
	if count > 0 && row < sum {
		return ViewProfile
	}
	count = g.serviceTargetRowCount()
	sum += count
	if count > 0 && row < sum {
		return ViewDirectShare
	}
	count = g.callerAndRankedRowCount()
	sum += count
	if count > 0 && row < sum {
		return ViewCallerAndRank
	}
	count = g.azLabelRowCount()
	sum += count
	if count > 0 && row < sum {
		return ViewAZLabel
	}
	if row == g.ItemCount()-1 {
		return ViewFooter
	}
	return ViewNormal
}

// TargetsForRow returns the visible targets shown in row. Rows without
// targets return nil.
func (g *GridAdapter) TargetsForRow(row int) []types.TargetInfo {
	start, end := g.rowRange(row)
	if start >= end {
		return nil
	}
	out := make([]types.TargetInfo, 0, end-start)
	for position := start; position < end; position++ {
		if target, ok := g.adapter.TargetInfoForPosition(position, true); ok {
			out = append(out, target)
		}
	}
	return out
}

// rowRange maps a row to the adapter positions it shows.
func (g *GridAdapter) rowRange(row int) (start, end int) {
	serviceCount := g.adapter.ServiceTargetCount()
	callerAndRanked := g.adapter.CallerTargetCount() + g.adapter.RankedTargetCount()
	switch g.ItemViewType(row) {
	case ViewDirectShare:
		return 0, serviceCount
	case ViewCallerAndRank:
		index := row - g.systemRowCount() - g.profileRowCount() - g.serviceTargetRowCount()
		start = serviceCount + index*g.perRow
		return start, min(start+g.perRow, serviceCount+callerAndRanked)
	case ViewNormal:
		index := row - g.systemRowCount() - g.profileRowCount() - g.serviceTargetRowCount() -
			g.callerAndRankedRowCount() - g.azLabelRowCount()
		offset := serviceCount + callerAndRanked
		start = offset + index*g.perRow
		return start, min(start+g.perRow, offset+g.adapter.AlphaTargetCount())
	case ViewContentPreview, ViewProfile, ViewAZLabel, ViewFooter:
	}
	return 0, 0
}

// PositionsForRow is the half-open range of adapter positions shown in row.
func (g *GridAdapter) PositionsForRow(row int) (start, end int) {
	return g.rowRange(row)
}
