package cart

import (
	"github.com/angelmondragon/cartsync/api/validators"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/cartline"
)

const (
	maxLabelLen = 256
	maxImageLen = 2048
)

type addProductRequest struct {
	ID    int64  `json:"id" validate:"gt=0"`
	Name  string `json:"name" validate:"required"`
	Price int64  `json:"price" validate:"gte=0,lte=1000000000000"`
	Image string `json:"image,omitempty"`
	Qty   int    `json:"qty" validate:"gte=0,lte=9999"`
}

type bundleItemRequest struct {
	ProductID int64  `json:"productId" validate:"gt=0"`
	Name      string `json:"name"`
	Qty       int    `json:"qty" validate:"gte=1,lte=9999"`
	Price     int64  `json:"price" validate:"gte=0,lte=1000000000000"`
}

type addBundleRequest struct {
	ID    int64               `json:"id" validate:"gt=0"`
	Title string              `json:"title" validate:"required"`
	Price int64               `json:"price" validate:"gte=0,lte=1000000000000"`
	Items []bundleItemRequest `json:"items" validate:"dive"`
	Qty   int                 `json:"qty" validate:"gte=0,lte=9999"`
}

type lineRequest struct {
	Kind  string              `json:"kind" validate:"oneof=product bundle"`
	ID    int64               `json:"id" validate:"gt=0"`
	Name  string              `json:"name,omitempty"`
	Title string              `json:"title,omitempty"`
	Price int64               `json:"price" validate:"gte=0,lte=1000000000000"`
	Image string              `json:"image,omitempty"`
	Qty   int                 `json:"qty" validate:"gte=0,lte=9999"`
	Items []bundleItemRequest `json:"items,omitempty" validate:"dive"`
}

type replaceRequest struct {
	Lines []lineRequest `json:"lines" validate:"dive"`
}

type panelRequest struct {
	Open *bool `json:"open" validate:"required"`
}

func (p addProductRequest) toInput() cartsvc.ProductInput {
	return cartsvc.ProductInput{
		ID:    p.ID,
		Name:  validators.SanitizeString(p.Name, maxLabelLen),
		Price: p.Price,
		Image: validators.SanitizeString(p.Image, maxImageLen),
	}
}

func (p addBundleRequest) toInput() cartsvc.BundleInput {
	return cartsvc.BundleInput{
		ID:    p.ID,
		Title: validators.SanitizeString(p.Title, maxLabelLen),
		Price: p.Price,
		Items: toBundleItems(p.Items),
	}
}

func (p replaceRequest) toLines() []cartline.Line {
	lines := make([]cartline.Line, 0, len(p.Lines))
	for _, l := range p.Lines {
		lines = append(lines, cartline.Line{
			Kind:  cartline.Kind(l.Kind),
			ID:    l.ID,
			Name:  validators.SanitizeString(l.Name, maxLabelLen),
			Title: validators.SanitizeString(l.Title, maxLabelLen),
			Price: l.Price,
			Image: validators.SanitizeString(l.Image, maxImageLen),
			Qty:   l.Qty,
			Items: toBundleItems(l.Items),
		})
	}
	return lines
}

func toBundleItems(items []bundleItemRequest) []cartline.BundleItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]cartline.BundleItem, 0, len(items))
	for _, item := range items {
		out = append(out, cartline.BundleItem{
			ProductID: item.ProductID,
			Name:      validators.SanitizeString(item.Name, maxLabelLen),
			Qty:       item.Qty,
			Price:     item.Price,
		})
	}
	return out
}
