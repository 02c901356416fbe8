// Package akahu is a minimal client for the Akahu transactions API. Only
// settled transactions are ever requested: the pending data class lacks the
// stable identifiers the ledger dedup depends on.
package akahu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fjacquet/bank-sync/internal/logging"
	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/syncerror"

	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.akahu.io/v1"

// SourceTag marks rows this client produced, persisted in the ledger's
// source column.
const SourceTag = "akahu_bnz"

// Client fetches settled transactions from the Akahu API.
type Client struct {
	baseURL    string
	userToken  string
	appToken   string
	pageSize   int
	httpClient *http.Client
	logger     logging.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithPageSize overrides the pagination page size.
func WithPageSize(pageSize int) Option {
	return func(c *Client) {
		if pageSize > 0 {
			c.pageSize = pageSize
		}
	}
}

// NewClient creates a Client authenticating with the given user and app
// tokens.
func NewClient(userToken, appToken string, logger logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	client := &Client{
		baseURL:    defaultBaseURL,
		userToken:  userToken,
		appToken:   appToken,
		pageSize:   250,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type transactionsPage struct {
	Items  []transactionPayload `json:"items"`
	Cursor struct {
		Next string `json:"next"`
	} `json:"cursor"`
}

type transactionPayload struct {
	ID        string `json:"_id"`
	Date      string `json:"date"`
	SettledAt string `json:"settled_at"`
	Status    string `json:"status"`
	Account   struct {
		Name string `json:"name"`
	} `json:"account"`
	Amount   decimal.Decimal  `json:"amount"`
	Balance  *decimal.Decimal `json:"balance"`
	Merchant struct {
		Name string `json:"name"`
	} `json:"merchant"`
	MerchantName string `json:"merchant_name"`
	Description  string `json:"description"`
}

// FetchSettled returns every settled transaction between start and end,
// following cursor pagination until exhausted. The API treats start as
// exclusive and end as inclusive; the caller's window already accounts for
// that. Items whose status is anything other than SETTLED are dropped even
// when the server-side filter is applied.
func (c *Client) FetchSettled(ctx context.Context, start, end time.Time) ([]models.Transaction, error) {
	params := url.Values{}
	params.Set("start", start.UTC().Format(time.RFC3339Nano))
	params.Set("end", end.UTC().Format(time.RFC3339Nano))
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("type", models.StatusSettled)

	var transactions []models.Transaction
	cursor := ""
	for {
		page, err := c.fetchPage(ctx, params, cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if !strings.EqualFold(item.Status, models.StatusSettled) {
				continue
			}
			tx, err := item.toTransaction()
			if err != nil {
				c.logger.WithError(err).WithField("id", item.ID).Warn("Skipping undecodable transaction")
				continue
			}
			transactions = append(transactions, tx)
		}
		cursor = page.Cursor.Next
		if cursor == "" {
			return transactions, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, params url.Values, cursor string) (*transactionsPage, error) {
	query := url.Values{}
	for key, values := range params {
		query[key] = values
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	endpoint := c.baseURL + "/transactions?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &syncerror.FetchError{Source: "akahu", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.userToken)
	req.Header.Set("X-Akahu-Id", c.appToken)

	c.logger.WithField("url", endpoint).Debug("Akahu request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &syncerror.FetchError{Source: "akahu", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &syncerror.FetchError{
			Source: "akahu",
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var page transactionsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &syncerror.FetchError{Source: "akahu", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &page, nil
}

func (p transactionPayload) toTransaction() (models.Transaction, error) {
	raw := p.Date
	if raw == "" {
		raw = p.SettledAt
	}
	occurred, err := parseInstant(raw)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", p.ID, err)
	}

	account := p.Account.Name
	if account == "" {
		account = "unknown"
	}

	merchant := strings.TrimSpace(p.Merchant.Name)
	if merchant == "" {
		merchant = p.MerchantName
	}

	tx := models.Transaction{
		ID:                 p.ID,
		OccurredAt:         occurred,
		Account:            account,
		Amount:             p.Amount,
		DescriptionRaw:     p.Description,
		MerchantNormalised: merchant,
		Source:             SourceTag,
	}
	if p.Balance != nil {
		tx.Balance = *p.Balance
		tx.HasBalance = true
	}
	return tx, nil
}

func parseInstant(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
