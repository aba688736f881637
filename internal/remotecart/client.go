package remotecart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/cartsync/internal/reconcile"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultMaxBody = 1 << 20

// TokenSource supplies the access credential sent with every call.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// LineInput is one product line of a batch add.
type LineInput struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

// Client talks to the Remote Cart Service (a Django REST cart resource).
type Client struct {
	http     *http.Client
	endpoint string
	tokens   TokenSource
	maxBody  int64
	logg     *logger.Logger
	newID    func() string
}

type Params struct {
	HTTPClient *http.Client
	// Endpoint is the full cart URL, e.g. https://shop.example/api/cart/.
	Endpoint     string
	Tokens       TokenSource
	Timeout      time.Duration
	MaxBodyBytes int64
	Logger       *logger.Logger
}

func New(params Params) (*Client, error) {
	if params.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if _, err := url.ParseRequestURI(params.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if params.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: params.Timeout}
	}
	maxBody := params.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Client{
		http:     httpClient,
		endpoint: strings.TrimRight(params.Endpoint, "/") + "/",
		tokens:   params.Tokens,
		maxBody:  maxBody,
		logg:     logg,
		newID:    uuid.NewString,
	}, nil
}

// List returns the raw server rows.
func (c *Client) List(ctx context.Context) ([]map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	return reconcile.DecodeRemote(body)
}

// AddLine adds qty units of a product. The {product_id, qty} body is tried
// first and {product_id, quantity} when the server rejects it.
func (c *Client) AddLine(ctx context.Context, productID int64, qty int) error {
	qty = max(1, qty)
	_, err := c.do(ctx, http.MethodPost, c.endpoint, map[string]any{"product_id": productID, "qty": qty})
	if err == nil || !isStatusError(err) {
		return err
	}
	_, fallbackErr := c.do(ctx, http.MethodPost, c.endpoint, map[string]any{"product_id": productID, "quantity": qty})
	if fallbackErr == nil {
		return nil
	}
	return multierr.Append(err, fallbackErr)
}

// AddLines adds several product lines in one {items:[...]} call, falling back
// to one AddLine per item. Any failure fails the whole batch; items added
// before the failure are not undone.
func (c *Client) AddLines(ctx context.Context, lines []LineInput) error {
	if len(lines) == 0 {
		return nil
	}
	items := make([]LineInput, len(lines))
	for i, l := range lines {
		items[i] = LineInput{ProductID: l.ProductID, Qty: max(1, l.Qty)}
	}

	_, err := c.do(ctx, http.MethodPost, c.endpoint, map[string]any{"items": items})
	if err == nil || !isStatusError(err) {
		return err
	}
	c.logg.Debug(c.logg.WithField(ctx, "items", len(items)), "batch add rejected, adding sequentially")

	for _, item := range items {
		if seqErr := c.AddLine(ctx, item.ProductID, item.Qty); seqErr != nil {
			return multierr.Append(err, seqErr)
		}
	}
	return nil
}

// RemoveProduct deletes the server line holding productID. The server row id
// is looked up first; then DELETE by row id, DELETE by product_id query and
// POST remove/ are tried in order until one succeeds.
func (c *Client) RemoveProduct(ctx context.Context, productID int64) error {
	pid := strconv.FormatInt(productID, 10)

	var attempts []func() error
	rows, listErr := c.List(ctx)
	if listErr == nil {
		if lineID, ok := findLineID(rows, productID); ok {
			attempts = append(attempts, func() error {
				_, err := c.do(ctx, http.MethodDelete, c.endpoint+strconv.FormatInt(lineID, 10)+"/", nil)
				return err
			})
		}
	}
	attempts = append(attempts,
		func() error {
			_, err := c.do(ctx, http.MethodDelete, c.endpoint+"?product_id="+url.QueryEscape(pid), nil)
			return err
		},
		func() error {
			_, err := c.do(ctx, http.MethodPost, c.endpoint+"remove/", map[string]any{"product_id": productID})
			return err
		},
	)

	errs := listErr
	for _, attempt := range attempts {
		err := attempt()
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return errs
}

// Clear empties the server cart: POST clear/ {confirm:true}, then DELETE on
// the collection.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoint+"clear/", map[string]any{"confirm": true})
	if err == nil || ctx.Err() != nil {
		return err
	}
	_, fallbackErr := c.do(ctx, http.MethodDelete, c.endpoint, nil)
	if fallbackErr == nil {
		return nil
	}
	return multierr.Append(err, fallbackErr)
}

func findLineID(rows []map[string]any, productID int64) (int64, bool) {
	for _, row := range rows {
		pid, ok := reconcile.ProductIDOf(row)
		if !ok || pid != productID {
			continue
		}
		if lineID, ok := reconcile.RemoteLineID(row); ok {
			return lineID, true
		}
	}
	return 0, false
}

// statusError marks a reply that arrived with a non-2xx status.
type statusError struct {
	status int
}

func (e statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func isStatusError(err error) bool {
	var se statusError
	return errors.As(err, &se)
}

func (c *Client) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	token, ok := c.tokens.AccessToken(ctx)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "no access credential for remote cart")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode remote cart request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build remote cart request")
	}
	requestID, ok := logger.RequestIDFromContext(ctx)
	if !ok {
		requestID = c.newID()
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"remote_method":     method,
		"remote_url":        target,
		"remote_request_id": requestID,
	})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, method+" remote cart")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read remote cart response")
	}

	if code := pkgerrors.FromHTTPStatus(resp.StatusCode); code != "" {
		c.logg.Debug(c.logg.WithField(logCtx, "status", resp.StatusCode), "remote cart call rejected")
		return nil, pkgerrors.Wrap(code, statusError{status: resp.StatusCode}, fmt.Sprintf("%s %s", method, target)).
			WithDetails(map[string]any{"status": resp.StatusCode, "request_id": requestID})
	}
	c.logg.Debug(c.logg.WithField(logCtx, "status", resp.StatusCode), "remote cart call ok")
	return data, nil
}
