// Package sheets exports submitted reports as rows of a Google spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/zulandar/roadcall/internal/submit"
)

const (
	headerRange = "A1:L1"
	rowRange    = "A:L"
)

// Headers are the column titles written by SetupHeaders.
var Headers = []any{
	"Report ID", "Submitted", "Created", "User ID", "Username", "Client",
	"Phone", "Latitude", "Longitude", "Vehicle", "Incident", "Photos",
}

// Values is the subset of the Sheets values API the exporter uses.
type Values interface {
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

// Exporter appends one row per report. It implements submit.Recorder.
type Exporter struct {
	values        Values
	spreadsheetID string
}

// New creates an Exporter around an existing Values client.
func New(values Values, spreadsheetID string) (*Exporter, error) {
	if values == nil {
		return nil, fmt.Errorf("sheets: values client is required")
	}
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	return &Exporter{values: values, spreadsheetID: spreadsheetID}, nil
}

// NewFromCredentials builds an Exporter authenticated with a service-account
// JSON key file.
func NewFromCredentials(ctx context.Context, credentialsPath, spreadsheetID string) (*Exporter, error) {
	key, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(key, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}
	svc, err := gsheets.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return New(&serviceValues{svc: svc}, spreadsheetID)
}

// Name implements submit.Recorder.
func (e *Exporter) Name() string { return "sheets" }

// SetupHeaders writes the header row.
func (e *Exporter) SetupHeaders(ctx context.Context) error {
	if err := e.values.Update(ctx, e.spreadsheetID, headerRange, [][]any{Headers}); err != nil {
		return fmt.Errorf("sheets: write headers: %w", err)
	}
	return nil
}

// Record implements submit.Recorder.
func (e *Exporter) Record(ctx context.Context, r submit.Report) error {
	if err := e.values.Append(ctx, e.spreadsheetID, rowRange, [][]any{Row(r)}); err != nil {
		return fmt.Errorf("sheets: append %s: %w", r.ID, err)
	}
	return nil
}

// Row renders a report in Headers order.
func Row(r submit.Report) []any {
	return []any{
		r.ID,
		r.SubmittedAt.Format(submit.TimeLayout),
		r.CreatedAt.Format(submit.TimeLayout),
		r.UserID,
		r.Username,
		r.ClientName,
		r.Phone,
		r.Latitude,
		r.Longitude,
		r.Vehicle,
		r.Incident,
		len(r.Photos),
	}
}

// serviceValues adapts the generated Sheets client to Values.
type serviceValues struct {
	svc *gsheets.Service
}

func (v *serviceValues) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := v.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (v *serviceValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := v.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}
