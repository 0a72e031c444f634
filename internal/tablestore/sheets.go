package tablestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsStore persists logical tables as worksheets of a single Google
// Spreadsheet. One worksheet per table, first row is the header.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
}

// NewSheetsStore authorizes with service-account credentials JSON and binds
// to the given spreadsheet.
func NewSheetsStore(ctx context.Context, credentialsJSON []byte, spreadsheetID string) (*SheetsStore, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}

	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func (s *SheetsStore) GetTable(ctx context.Context, name string) ([]Row, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, name).Context(ctx).Do()
	if err != nil {
		if isMissingSheet(err) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}

	if len(resp.Values) == 0 {
		return nil, nil
	}

	header := make([]string, 0, len(resp.Values[0]))
	for _, cell := range resp.Values[0] {
		header = append(header, cellString(cell))
	}

	rows := make([]Row, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		row := Row{}
		for i, cell := range raw {
			if i >= len(header) || header[i] == "" {
				continue
			}
			row[header[i]] = cellString(cell)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func (s *SheetsStore) CreateTable(ctx context.Context, name string, rowHint, colHint int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: name,
					GridProperties: &sheets.GridProperties{
						RowCount:    int64(rowHint),
						ColumnCount: int64(colHint),
					},
				},
			},
		}},
	}

	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create sheet %q: %w", name, err)
	}

	logger.Info("Created worksheet", zap.String("sheet", name))
	return nil
}

func (s *SheetsStore) OverwriteTable(ctx context.Context, name string, header []string, rows []Row) error {
	if _, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, name, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		if isMissingSheet(err) {
			return ErrTableNotFound
		}
		return fmt.Errorf("failed to clear sheet %q: %w", name, err)
	}

	values := make([][]interface{}, 0, len(rows)+1)
	values = append(values, toCells(header))
	for _, row := range rows {
		cells := make([]interface{}, len(header))
		for i, col := range header {
			cells[i] = row[col]
		}
		values = append(values, cells)
	}

	_, err := s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, name+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write sheet %q: %w", name, err)
	}

	return nil
}

func (s *SheetsStore) AppendRow(ctx context.Context, name string, header []string, row Row) error {
	current, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, name+"!1:1").Context(ctx).Do()
	if err != nil {
		if isMissingSheet(err) {
			return ErrTableNotFound
		}
		return fmt.Errorf("failed to read header of sheet %q: %w", name, err)
	}

	if !headerMatches(current, header) {
		if err := s.writeHeader(ctx, name, header, len(current.Values) > 0); err != nil {
			return err
		}
	}

	cells := make([]interface{}, len(header))
	for i, col := range header {
		cells[i] = row[col]
	}

	_, err = s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, name, &sheets.ValueRange{Values: [][]interface{}{cells}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append to sheet %q: %w", name, err)
	}

	return nil
}

// writeHeader installs the header row. When the first row already holds data
// a new row is inserted above it so nothing is lost.
func (s *SheetsStore) writeHeader(ctx context.Context, name string, header []string, shift bool) error {
	if shift {
		sheetID, err := s.sheetID(ctx, name)
		if err != nil {
			return err
		}
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				InsertDimension: &sheets.InsertDimensionRequest{
					Range: &sheets.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "ROWS",
						StartIndex: 0,
						EndIndex:   1,
					},
				},
			}},
		}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to insert header row in sheet %q: %w", name, err)
		}
	}

	_, err := s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, name+"!A1", &sheets.ValueRange{Values: [][]interface{}{toCells(header)}}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write header of sheet %q: %w", name, err)
	}

	logger.Info("Header written", zap.String("sheet", name))
	return nil
}

func (s *SheetsStore) sheetID(ctx context.Context, name string) (int64, error) {
	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, ErrTableNotFound
}

func headerMatches(vr *sheets.ValueRange, header []string) bool {
	if vr == nil || len(vr.Values) == 0 || len(vr.Values[0]) < len(header) {
		return false
	}
	for i, col := range header {
		if cellString(vr.Values[0][i]) != col {
			return false
		}
	}
	return true
}

func toCells(header []string) []interface{} {
	cells := make([]interface{}, len(header))
	for i, col := range header {
		cells[i] = col
	}
	return cells
}

func cellString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// The Sheets API reports a read of a nonexistent worksheet as a range parse
// failure, not a 404.
func isMissingSheet(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")
	}
	return false
}
