package cart

import (
	"errors"
	"strings"

	"github.com/angelmondragon/cartsync/internal/cartline"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// ProductInput is the catalog data needed to put a product in the cart.
type ProductInput struct {
	ID    int64  `json:"id" validate:"gt=0"`
	Name  string `json:"name" validate:"required"`
	Price int64  `json:"price" validate:"gte=0,lte=1000000000000"`
	Image string `json:"image,omitempty"`
}

// BundleInput is a fixed-price group of products added as one line.
type BundleInput struct {
	ID    int64                 `json:"id" validate:"gt=0"`
	Title string                `json:"title" validate:"required"`
	Price int64                 `json:"price" validate:"gte=0,lte=1000000000000"`
	Items []cartline.BundleItem `json:"items" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (in ProductInput) line(qty int) (cartline.Line, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return cartline.Line{}, validationError("invalid product", err)
	}
	return cartline.Line{
		Kind:  cartline.KindProduct,
		ID:    in.ID,
		Name:  in.Name,
		Price: in.Price,
		Image: in.Image,
		Qty:   qty,
	}, nil
}

func (in BundleInput) line(qty int) (cartline.Line, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validate.Struct(in); err != nil {
		return cartline.Line{}, validationError("invalid bundle", err)
	}
	return cartline.Line{
		Kind:  cartline.KindBundle,
		ID:    in.ID,
		Title: in.Title,
		Price: in.Price,
		Qty:   qty,
		Items: append([]cartline.BundleItem(nil), in.Items...),
	}, nil
}

func validationError(msg string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe.Namespace())] = fe.Tag()
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg).WithDetails(details)
}

// fieldPath drops the struct name: "ProductInput.Items[0].Qty" -> "Items[0].Qty".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// coerceQty applies the "at least one" rule to requested quantities and caps
// them at cartline.MaxQty.
func coerceQty(qty int) int {
	return cartline.ClampQty(qty)
}
