package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"rollcall/internal/models"
	"rollcall/internal/remote"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrInvalidSpreadsheetURL is returned when the endpoint does not name a spreadsheet.
var ErrInvalidSpreadsheetURL = errors.New("endpoint is not a spreadsheet url")

// SheetsSender appends one row per task directly through the Sheets API.
type SheetsSender struct {
	service   *sheets.Service
	sheetName string
	timeout   time.Duration
	location  *time.Location
}

func NewSheetsSender(ctx context.Context, credentialsFile, sheetName string, timeout time.Duration, loc *time.Location) (*SheetsSender, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsSender(srv, sheetName, timeout, loc), nil
}

func newSheetsSender(srv *sheets.Service, sheetName string, timeout time.Duration, loc *time.Location) *SheetsSender {
	if sheetName == "" {
		sheetName = "Attendance"
	}
	if timeout <= 0 {
		timeout = models.DefaultRequestTimeout
	}
	if loc == nil {
		loc = time.Local
	}
	return &SheetsSender{service: srv, sheetName: sheetName, timeout: timeout, location: loc}
}

// Send appends the task as a row: data values in order, then customDate.
func (s *SheetsSender) Send(ctx context.Context, endpoint string, task models.SyncTask) error {
	spreadsheetID, err := SpreadsheetIDFromURL(endpoint)
	if err != nil {
		return &remote.DeliveryError{Kind: remote.KindRejected, Reason: err.Error(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := remote.FormValues(task, s.location)
	row := make([]interface{}, len(fields))
	for i, f := range fields {
		row[i] = f.Value
	}

	_, err = s.service.Spreadsheets.Values.Append(spreadsheetID, s.sheetName+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classify(ctx, err, s.timeout)
	}
	return nil
}

// TestConnection проверяет подключение к таблице
func (s *SheetsSender) TestConnection(ctx context.Context, endpoint string) error {
	spreadsheetID, err := SpreadsheetIDFromURL(endpoint)
	if err != nil {
		return err
	}
	_, err = s.service.Spreadsheets.Get(spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func classify(ctx context.Context, err error, timeout time.Duration) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Body
		}
		return &remote.DeliveryError{
			Kind:       remote.KindHTTPStatus,
			StatusCode: gerr.Code,
			Snippet:    remote.Snippet(msg),
			Err:        err,
		}
	}
	if ctx.Err() != nil {
		return &remote.DeliveryError{Kind: remote.KindTimeout, Timeout: timeout, Err: err}
	}
	return &remote.DeliveryError{Kind: remote.KindNetwork, Err: err}
}

// SpreadsheetIDFromURL extracts the id from
// https://docs.google.com/spreadsheets/d/<id>/... style URLs.
func SpreadsheetIDFromURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSpreadsheetURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", ErrInvalidSpreadsheetURL
}

// ServiceAccountEmail возвращает email сервисного аккаунта
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}

	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}

	return creds.ClientEmail, nil
}
