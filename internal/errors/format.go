package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal display.
// Non-ShelfErrors are printed as-is.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	se, ok := As(err)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", se.Message)
	if se.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", se.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", se.Code)
	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	se, ok := As(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error_code", se.Code),
		slog.String("error", se.Message),
		slog.String("category", string(se.Category)),
		slog.Bool("retryable", se.Retryable),
	}
	if se.Cause != nil {
		attrs = append(attrs, slog.String("cause", se.Cause.Error()))
	}
	for k, v := range se.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
