// Package sheets is the Google Sheets adapter for the transaction ledger.
// The Transactions tab is the append-only ledger; the CategoryMap tab holds
// the user-editable categorisation rules. User-authored summary tabs are
// never touched.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"fjacquet/bank-sync/internal/categorizer"
	"fjacquet/bank-sync/internal/differ"
	"fjacquet/bank-sync/internal/logging"
	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/syncerror"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client reads and writes ledger rows in one spreadsheet.
type Client struct {
	svc             *gsheet.Service
	spreadsheetID   string
	transactionsTab string
	categoryTab     string
	logger          logging.Logger
}

// NewClient creates a Client for the given spreadsheet using service-account
// credentials resolved from the environment: GOOGLE_SERVICE_ACCOUNT_JSON
// (inline), GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func NewClient(ctx context.Context, spreadsheetID, transactionsTab, categoryTab string, logger logging.Logger) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	if transactionsTab == "" {
		transactionsTab = "Transactions"
	}
	if categoryTab == "" {
		categoryTab = "CategoryMap"
	}

	return &Client{
		svc:             svc,
		spreadsheetID:   spreadsheetID,
		transactionsTab: transactionsTab,
		categoryTab:     categoryTab,
		logger:          logger,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	inlineJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	credentialsFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inlineJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inlineJSON != "":
		credentialsJSON = []byte(inlineJSON)
	case credentialsFile != "":
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	return gsheet.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(gsheet.SpreadsheetsScope),
	)
}

// ReadLedger returns every ledger row from the Transactions tab. Rows that
// cannot be decoded (hand-edited, missing id) are skipped with a warning so
// one damaged row does not stop the sync.
func (c *Client) ReadLedger(ctx context.Context) ([]models.LedgerRow, error) {
	readRange := fmt.Sprintf("%s!A2:K", c.transactionsTab)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}

	var rows []models.LedgerRow
	for offset, raw := range resp.Values {
		rowIndex := offset + 2 // values start at sheet row 2, under the header
		row, err := models.LedgerRowFromValues(cellStrings(raw), rowIndex)
		if err != nil {
			c.logger.WithError(err).WithField("row", rowIndex).Warn("Skipping unreadable ledger row")
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadCategoryRules returns the raw rule rows from the CategoryMap tab in
// sheet order. Validation happens in the categorizer, which can skip
// individual bad rows.
func (c *Client) ReadCategoryRules(ctx context.Context) ([]categorizer.RuleSpec, error) {
	readRange := fmt.Sprintf("%s!A2:E", c.categoryTab)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading category rules: %w", err)
	}

	specs := make([]categorizer.RuleSpec, 0, len(resp.Values))
	for _, raw := range resp.Values {
		cells := cellStrings(raw)
		padded := make([]string, 5)
		copy(padded, cells)
		specs = append(specs, categorizer.RuleSpec{
			Pattern:         padded[0],
			Field:           padded[1],
			Category:        padded[2],
			Priority:        padded[3],
			AmountCondition: padded[4],
		})
	}
	return specs, nil
}

// Apply executes a diff plan against the Transactions tab: one append for all
// inserts, one update per changed row, and a single batchUpdate for deletes.
// Deletes run last, in descending row order, so earlier deletions do not
// shift the indices of later ones.
func (c *Client) Apply(ctx context.Context, plan differ.Plan) error {
	if len(plan.Inserts) > 0 {
		values := make([][]interface{}, 0, len(plan.Inserts))
		for _, row := range plan.Inserts {
			values = append(values, cellValues(row.Values()))
		}
		appendRange := fmt.Sprintf("%s!A:K", c.transactionsTab)
		c.logger.WithField("count", len(values)).Info("Appending new transactions")
		_, err := c.svc.Spreadsheets.Values.
			Append(c.spreadsheetID, appendRange, &gsheet.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").
			Context(ctx).Do()
		if err != nil {
			return &syncerror.ApplyError{Stage: "insert", Err: err}
		}
	}

	for _, row := range plan.Updates {
		updateRange := fmt.Sprintf("%s!A%d:K%d", c.transactionsTab, row.RowIndex, row.RowIndex)
		c.logger.WithFields(
			logging.Field{Key: "row", Value: row.RowIndex},
			logging.Field{Key: "id", Value: row.ID},
		).Info("Updating transaction")
		_, err := c.svc.Spreadsheets.Values.
			Update(c.spreadsheetID, updateRange, &gsheet.ValueRange{Values: [][]interface{}{cellValues(row.Values())}}).
			ValueInputOption("USER_ENTERED").
			Context(ctx).Do()
		if err != nil {
			return &syncerror.ApplyError{Stage: "update", Err: err}
		}
	}

	if len(plan.Deletes) > 0 {
		if err := c.deleteRows(ctx, plan.Deletes); err != nil {
			return &syncerror.ApplyError{Stage: "delete", Err: err}
		}
	}

	return nil
}

func (c *Client) deleteRows(ctx context.Context, rows []models.LedgerRow) error {
	sheetID, err := c.sheetID(ctx, c.transactionsTab)
	if err != nil {
		return err
	}

	indices := make([]int, 0, len(rows))
	for _, row := range rows {
		if row.RowIndex > 0 {
			indices = append(indices, row.RowIndex)
		}
	}
	if len(indices) == 0 {
		return nil
	}
	// Descending order keeps remaining indices valid as rows disappear.
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))

	requests := make([]*gsheet.Request, 0, len(indices))
	for _, index := range indices {
		requests = append(requests, &gsheet.Request{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(index - 1),
					EndIndex:   int64(index),
				},
			},
		})
	}

	c.logger.WithField("count", len(requests)).Warn("Deleting transactions")
	_, err = c.svc.Spreadsheets.
		BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: requests}).
		Context(ctx).Do()
	return err
}

func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	spreadsheet, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("reading spreadsheet metadata: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == title {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("no sheet titled %q", title)
}

func cellStrings(raw []interface{}) []string {
	cells := make([]string, len(raw))
	for i, value := range raw {
		cells[i] = fmt.Sprintf("%v", value)
	}
	return cells
}

func cellValues(cells []string) []interface{} {
	values := make([]interface{}, len(cells))
	for i, cell := range cells {
		values[i] = cell
	}
	return values
}
