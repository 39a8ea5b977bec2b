package tools

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/MimeLyc/agentkit/internal/schema"
)

const CSVOrderReaderName = "csv_order_reader"

var requiredOrderColumns = []string{"ordernumber", "customeremail", "status"}

type CSVOrderReaderInput struct {
	OrderNumber   string `json:"order_number" jsonschema:"minLength=1,description=The order number to look up."`
	CustomerEmail string `json:"customer_email" jsonschema:"format=email,description=The customer's email address for verification."`
	FilePath      string `json:"file_path,omitempty" jsonschema:"description=Path to the orders CSV file. Defaults to the configured orders file."`
}

type CSVOrderReaderOutput struct {
	schema.ToolResult
	OrderNumber   string            `json:"order_number,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Status        string            `json:"status,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// NewCSVOrderReader returns a tool that looks up an order's status in a CSV
// file and verifies it belongs to the given customer. defaultPath is used
// when the call does not name a file.
func NewCSVOrderReader(defaultPath string) *TypedTool[CSVOrderReaderInput, CSVOrderReaderOutput] {
	return MustNew(CSVOrderReaderName,
		"Looks up the status of a specific order number in a CSV file, verifying with the customer's email.",
		func(ctx context.Context, in CSVOrderReaderInput) (CSVOrderReaderOutput, error) {
			if in.FilePath == "" {
				in.FilePath = defaultPath
			}
			return lookupOrder(ctx, in)
		})
}

func lookupOrder(_ context.Context, in CSVOrderReaderInput) (CSVOrderReaderOutput, error) {
	if in.FilePath == "" {
		return CSVOrderReaderOutput{ToolResult: schema.Failed("No orders file configured.")}, nil
	}

	f, err := os.Open(in.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return CSVOrderReaderOutput{ToolResult: schema.Failed("CSV file not found at path: %s", in.FilePath)}, nil
	}
	if err != nil {
		return CSVOrderReaderOutput{}, fmt.Errorf("open orders file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return CSVOrderReaderOutput{ToolResult: schema.Failed("Orders file is empty.")}, nil
	}
	if err != nil {
		return CSVOrderReaderOutput{}, fmt.Errorf("read orders header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeColumn(name)] = i
	}
	var missing []string
	for _, col := range requiredOrderColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return CSVOrderReaderOutput{ToolResult: schema.Failed("CSV missing required columns: %s", strings.Join(missing, ", "))}, nil
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return CSVOrderReaderOutput{}, fmt.Errorf("read orders: %w", err)
		}
		if !strings.EqualFold(strings.TrimSpace(record[columns["ordernumber"]]), in.OrderNumber) {
			continue
		}

		if !strings.EqualFold(strings.TrimSpace(record[columns["customeremail"]]), in.CustomerEmail) {
			return CSVOrderReaderOutput{ToolResult: schema.Failed("Order found, but customer email does not match.")}, nil
		}

		details := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				details[normalizeColumn(name)] = record[i]
			}
		}
		return CSVOrderReaderOutput{
			ToolResult:    schema.Succeeded(),
			OrderNumber:   in.OrderNumber,
			CustomerEmail: in.CustomerEmail,
			Status:        record[columns["status"]],
			Details:       details,
		}, nil
	}

	return CSVOrderReaderOutput{ToolResult: schema.Failed("Order '%s' not found.", in.OrderNumber)}, nil
}

func normalizeColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
}
