package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const valueInputOption = "USER_ENTERED"

// GoogleClient talks to the Google Sheets v4 API with a service account.
type GoogleClient struct {
	srv *gsheets.Service
}

// OpenGoogleClient is a ClientFactory backed by a service account JSON key.
func OpenGoogleClient(ctx context.Context, credentialsPath string) (Client, error) {
	if _, err := os.Stat(credentialsPath); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("credentials file %s is not readable", credentialsPath), Err: err}
	}

	srv, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("failed to load credentials %s", credentialsPath), Err: err}
	}
	return &GoogleClient{srv: srv}, nil
}

func (c *GoogleClient) Values(ctx context.Context, spreadsheetID, worksheet string) ([][]string, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(spreadsheetID, quoteSheet(worksheet)).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	values := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		values[i] = make([]string, len(row))
		for j, v := range row {
			values[i][j] = fmt.Sprint(v)
		}
	}
	return values, nil
}

func (c *GoogleClient) UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	body := &gsheets.ValueRange{Values: toInterfaces(rows)}
	_, err := c.srv.Spreadsheets.Values.Update(spreadsheetID, rng, body).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	return classify(err)
}

func (c *GoogleClient) BatchUpdateValues(ctx context.Context, spreadsheetID string, writes []CellWrite) error {
	if len(writes) == 0 {
		return nil
	}
	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: valueInputOption}
	for _, w := range writes {
		req.Data = append(req.Data, &gsheets.ValueRange{
			Range:  w.Range,
			Values: [][]interface{}{{w.Value}},
		})
	}
	_, err := c.srv.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return classify(err)
}

func (c *GoogleClient) InsertRow(ctx context.Context, spreadsheetID string, sheetID int64, rowNumber int) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			InsertDimension: &gsheets.InsertDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowNumber - 1),
					EndIndex:   int64(rowNumber),
					// zero is a valid sheet id and row index
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	_, err := c.srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return classify(err)
}

func (c *GoogleClient) SheetID(ctx context.Context, spreadsheetID, worksheet string) (int64, error) {
	resp, err := c.srv.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, classify(err)
	}
	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == worksheet {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, configErrorf("worksheet %q not found in spreadsheet", worksheet)
}

// classify maps rejected credentials to AuthError and a missing spreadsheet
// to ConfigurationError. Anything else is returned as is and retried.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return &AuthError{Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthError{Err: err}
		case http.StatusNotFound:
			return &ConfigurationError{Reason: "spreadsheet not found", Err: err}
		}
	}
	return err
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		out[i] = make([]interface{}, len(row))
		for j, v := range row {
			out[i][j] = v
		}
	}
	return out
}
