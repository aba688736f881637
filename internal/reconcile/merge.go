package reconcile

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"go.uber.org/multierr"
)

// LineAdder is the remote add-line call used by the merge pass.
type LineAdder interface {
	AddLine(ctx context.Context, productID int64, qty int) error
}

// MergeLocalIntoEmptyServerCart pushes every local product line to the server,
// one call at a time, keeping local quantities. Bundle lines are skipped since
// the server has no bundle concept. A failing line does not stop the pass; all
// failures are returned together. It reports how many calls were attempted.
func MergeLocalIntoEmptyServerCart(ctx context.Context, adder LineAdder, local []cartline.Line) (int, error) {
	var (
		attempted int
		errs      error
	)
	for _, line := range local {
		if line.Kind != cartline.KindProduct {
			continue
		}
		if err := ctx.Err(); err != nil {
			return attempted, multierr.Append(errs, err)
		}
		attempted++
		if err := adder.AddLine(ctx, line.ID, max(1, line.Qty)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("merge product %d: %w", line.ID, err))
		}
	}
	return attempted, errs
}
