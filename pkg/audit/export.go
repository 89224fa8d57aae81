package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ContentType returns the MIME type of an export format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// ParseExportFormat validates a format name; an empty name selects JSON
func ParseExportFormat(name string) (ExportFormat, error) {
	switch ExportFormat(name) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatCSV, ExportFormatNDJSON:
		return ExportFormat(name), nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", name)
	}
}

// Export writes events in the given format
func Export(w io.Writer, format ExportFormat, events []Event) error {
	switch format {
	case ExportFormatCSV:
		return exportCSV(w, events)
	case ExportFormatNDJSON:
		return exportNDJSON(w, events)
	default:
		return exportJSON(w, events)
	}
}

func exportJSON(w io.Writer, events []Event) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(events)
}

// exportNDJSON writes one event per line
func exportNDJSON(w io.Writer, events []Event) error {
	encoder := json.NewEncoder(w)
	for i := range events {
		if err := encoder.Encode(&events[i]); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"EventType",
	"Status",
	"ActorID",
	"ResourceType",
	"ResourceID",
	"IPAddress",
	"UserAgent",
	"RequestID",
	"Method",
	"Path",
	"StatusCode",
	"Message",
}

func exportCSV(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		statusCode := ""
		if event.StatusCode != 0 {
			statusCode = strconv.Itoa(event.StatusCode)
		}
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.UTC().Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			formatInt64Ptr(event.ActorID),
			string(event.ResourceType),
			event.ResourceID,
			event.IPAddress,
			event.UserAgent,
			event.RequestID,
			event.Method,
			event.Path,
			statusCode,
			event.Message,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
