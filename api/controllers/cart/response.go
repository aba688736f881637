package cart

import (
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/cartline"
)

type cartView struct {
	Lines []cartline.Line `json:"lines"`
	Count int             `json:"count"`
	Total int64           `json:"total"`
	Open  bool            `json:"open"`
}

type syncView struct {
	Source     cartsvc.SyncSource `json:"source"`
	Merged     bool               `json:"merged"`
	Attempted  int                `json:"attempted"`
	MergeError string             `json:"merge_error,omitempty"`
	Cart       cartView           `json:"cart"`
}

func newCartView(engine Engine) cartView {
	lines := engine.Items()
	return cartView{
		Lines: lines,
		Count: cartline.Count(lines),
		Total: cartline.Total(lines),
		Open:  engine.IsOpen(),
	}
}

func newSyncView(engine Engine, res cartsvc.SyncResult) syncView {
	view := syncView{
		Source:    res.Source,
		Merged:    res.Merged,
		Attempted: res.Attempted,
		Cart:      newCartView(engine),
	}
	if res.MergeErr != nil {
		view.MergeError = res.MergeErr.Error()
	}
	return view
}
