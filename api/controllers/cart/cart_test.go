package cart

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/angelmondragon/cartsync/internal/events"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

type stubEngine struct {
	lines      []cartline.Line
	open       bool
	err        error
	syncResult cartsvc.SyncResult

	lastProduct cartsvc.ProductInput
	lastBundle  cartsvc.BundleInput
	lastQty     int
	removed     cartline.Key
	replaced    []cartline.Line
	cleared     bool
}

func (s *stubEngine) Items() []cartline.Line { return cartline.Clone(s.lines) }
func (s *stubEngine) IsOpen() bool           { return s.open }
func (s *stubEngine) Open()                  { s.open = true }
func (s *stubEngine) Dismiss()               { s.open = false }
func (s *stubEngine) Count() int             { return cartline.Count(s.lines) }

func (s *stubEngine) AddProduct(_ context.Context, in cartsvc.ProductInput, qty int) error {
	s.lastProduct, s.lastQty = in, qty
	if s.err != nil {
		return s.err
	}
	s.lines = cartline.Merge(s.lines, cartline.Line{Kind: cartline.KindProduct, ID: in.ID, Name: in.Name, Price: in.Price, Qty: max(1, qty)})
	return nil
}

func (s *stubEngine) AddBundle(_ context.Context, in cartsvc.BundleInput, qty int) error {
	s.lastBundle, s.lastQty = in, qty
	return s.err
}

func (s *stubEngine) RemoveLine(_ context.Context, kind cartline.Kind, id int64) error {
	s.removed = cartline.Key{Kind: kind, ID: id}
	return s.err
}

func (s *stubEngine) Clear(context.Context) error {
	s.cleared = true
	s.lines = nil
	return s.err
}

func (s *stubEngine) Replace(_ context.Context, lines []cartline.Line) error {
	s.replaced = lines
	return s.err
}

func (s *stubEngine) Sync(context.Context) (cartsvc.SyncResult, error) {
	return s.syncResult, s.err
}

func (s *stubEngine) Resync(context.Context) error {
	return s.err
}

type cartEnvelope struct {
	Data cartView `json:"data"`
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decodeCart(t *testing.T, resp *httptest.ResponseRecorder) cartView {
	t.Helper()
	var envelope cartEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func TestCartFetchSuccess(t *testing.T) {
	engine := &stubEngine{
		lines: []cartline.Line{{Kind: cartline.KindProduct, ID: 1, Name: "T", Price: 10000, Qty: 5}},
		open:  true,
	}
	resp := serve(t, CartFetch(engine, nil), http.MethodGet, "/api/v1/cart", "")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	view := decodeCart(t, resp)
	if view.Count != 5 || view.Total != 50000 || !view.Open || len(view.Lines) != 1 {
		t.Fatalf("unexpected cart view %+v", view)
	}
}

func TestCartFetchEmptyCartSerializesLines(t *testing.T) {
	resp := serve(t, CartFetch(&stubEngine{}, nil), http.MethodGet, "/api/v1/cart", "")
	if !strings.Contains(resp.Body.String(), `"lines":[]`) {
		t.Fatalf("expected empty lines array, got %s", resp.Body.String())
	}
}

func TestCartFetchWithoutEngine(t *testing.T) {
	resp := serve(t, CartFetch(nil, nil), http.MethodGet, "/api/v1/cart", "")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestCartAddProduct(t *testing.T) {
	engine := &stubEngine{}
	body := `{"id":1,"name":"  T  ","price":10000,"qty":2}`
	resp := serve(t, CartAddProduct(engine, nil), http.MethodPost, "/api/v1/cart/products", body)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if engine.lastProduct.Name != "T" || engine.lastQty != 2 {
		t.Fatalf("unexpected input %+v qty=%d", engine.lastProduct, engine.lastQty)
	}
	if view := decodeCart(t, resp); view.Count != 2 {
		t.Fatalf("expected count 2, got %d", view.Count)
	}
}

func TestCartAddProductValidation(t *testing.T) {
	engine := &stubEngine{}
	resp := serve(t, CartAddProduct(engine, nil), http.MethodPost, "/api/v1/cart/products", `{"id":0,"name":"T","price":1}`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if engine.lastProduct.ID != 0 {
		t.Fatalf("engine should not be called")
	}
}

func TestCartAddProductRejectsOversizedQty(t *testing.T) {
	engine := &stubEngine{}
	resp := serve(t, CartAddProduct(engine, nil), http.MethodPost, "/api/v1/cart/products", `{"id":1,"name":"T","price":1,"qty":9223372036854775807}`)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if engine.lastProduct.ID != 0 {
		t.Fatalf("engine should not be called")
	}
}

func TestCartAddProductEngineValidationError(t *testing.T) {
	engine := &stubEngine{err: pkgerrors.New(pkgerrors.CodeValidation, "invalid product")}
	resp := serve(t, CartAddProduct(engine, nil), http.MethodPost, "/api/v1/cart/products", `{"id":1,"name":"T","price":1}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartAddBundle(t *testing.T) {
	engine := &stubEngine{}
	body := `{"id":9,"title":"Set","price":30000,"qty":1,"items":[{"productId":1,"name":"A","qty":1,"price":15000},{"productId":2,"name":"B","qty":1,"price":15000}]}`
	resp := serve(t, CartAddBundle(engine, nil), http.MethodPost, "/api/v1/cart/bundles", body)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if engine.lastBundle.ID != 9 || len(engine.lastBundle.Items) != 2 || engine.lastBundle.Items[1].ProductID != 2 {
		t.Fatalf("unexpected bundle input %+v", engine.lastBundle)
	}
}

func TestCartRemoveLine(t *testing.T) {
	engine := &stubEngine{}
	r := chi.NewRouter()
	r.Delete("/api/v1/cart/lines/{kind}/{id}", CartRemoveLine(engine, nil))

	resp := serve(t, r, http.MethodDelete, "/api/v1/cart/lines/product/7", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if engine.removed != (cartline.Key{Kind: cartline.KindProduct, ID: 7}) {
		t.Fatalf("unexpected removal %+v", engine.removed)
	}

	resp = serve(t, r, http.MethodDelete, "/api/v1/cart/lines/product/abc", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartClear(t *testing.T) {
	engine := &stubEngine{lines: []cartline.Line{{Kind: cartline.KindProduct, ID: 1, Qty: 1}}}
	resp := serve(t, CartClear(engine, nil), http.MethodPost, "/api/v1/cart/clear", "")
	if resp.Code != http.StatusOK || !engine.cleared {
		t.Fatalf("expected clear, got %d", resp.Code)
	}
	if view := decodeCart(t, resp); view.Count != 0 {
		t.Fatalf("expected empty cart, got %+v", view)
	}
}

func TestCartReplace(t *testing.T) {
	engine := &stubEngine{}
	body := `{"lines":[{"kind":"product","id":1,"name":"A","price":5,"qty":2},{"kind":"bundle","id":2,"title":"B","price":7,"qty":1}]}`
	resp := serve(t, CartReplace(engine, nil), http.MethodPut, "/api/v1/cart", body)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(engine.replaced) != 2 || engine.replaced[1].Kind != cartline.KindBundle {
		t.Fatalf("unexpected replaced lines %+v", engine.replaced)
	}

	resp = serve(t, CartReplace(engine, nil), http.MethodPut, "/api/v1/cart", `{"lines":[{"kind":"gift","id":1,"price":1}]}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", resp.Code)
	}
}

func TestCartSyncReportsMergeFailure(t *testing.T) {
	engine := &stubEngine{syncResult: cartsvc.SyncResult{
		Source:    cartsvc.SyncLocal,
		Merged:    true,
		Attempted: 2,
		MergeErr:  errors.New("merge product 1: boom"),
	}}
	resp := serve(t, CartSync(engine, nil), http.MethodPost, "/api/v1/cart/sync", "")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data syncView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Merged || envelope.Data.Attempted != 2 || envelope.Data.MergeError == "" {
		t.Fatalf("unexpected sync view %+v", envelope.Data)
	}
}

func TestCartSyncRemoteFailure(t *testing.T) {
	engine := &stubEngine{err: pkgerrors.New(pkgerrors.CodeDependency, "remote cart unavailable")}
	resp := serve(t, CartSync(engine, nil), http.MethodPost, "/api/v1/cart/sync", "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestCartResyncUnauthorized(t *testing.T) {
	engine := &stubEngine{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "resync requires an access token")}
	resp := serve(t, CartResync(engine, nil), http.MethodPost, "/api/v1/cart/resync", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCartPanel(t *testing.T) {
	engine := &stubEngine{}
	resp := serve(t, CartPanel(engine, nil), http.MethodPut, "/api/v1/cart/panel", `{"open":true}`)
	if resp.Code != http.StatusOK || !engine.open {
		t.Fatalf("expected panel open, got %d", resp.Code)
	}
	resp = serve(t, CartPanel(engine, nil), http.MethodPut, "/api/v1/cart/panel", `{}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing flag, got %d", resp.Code)
	}
}

func TestCartEventsStreamsBusEvents(t *testing.T) {
	bus := events.NewBus()
	engine := &stubEngine{lines: []cartline.Line{{Kind: cartline.KindProduct, ID: 1, Qty: 3}}}
	srv := httptest.NewServer(CartEvents(bus, engine, nil, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	name, data := readEvent(t, reader)
	if name != events.NameSet || data != `{"count":3}` {
		t.Fatalf("unexpected first event %s %s", name, data)
	}

	bus.Publish(context.Background(), events.CountDelta{Qty: 2})
	name, data = readEvent(t, reader)
	if name != events.NameAdd || data != `{"qty":2}` {
		t.Fatalf("unexpected event %s %s", name, data)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for bus.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bus.Len() != 0 {
		t.Fatalf("stream did not unsubscribe after disconnect")
	}
}

func TestCartEventsEndsOnServerShutdown(t *testing.T) {
	bus := events.NewBus()
	engine := &stubEngine{}
	closing := make(chan struct{})
	srv := httptest.NewUnstartedServer(CartEvents(bus, engine, closing, nil))
	srv.Config.RegisterOnShutdown(func() { close(closing) })
	srv.Start()
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if name, _ := readEvent(t, bufio.NewReader(resp.Body)); name != events.NameSet {
		t.Fatalf("unexpected first event %s", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := srv.Config.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown blocked by open stream: %v after %s", err, time.Since(start))
	}
	if bus.Len() != 0 {
		t.Fatalf("stream did not unsubscribe on shutdown")
	}
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}
