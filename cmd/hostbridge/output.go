package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addOutputFlag(flags *pflag.FlagSet) {
	flags.StringP("output", "o", outputTable, "Output format (table, json, yaml)")
}

// printStructured writes v as JSON or YAML and reports whether it did. Table
// output is left to the caller.
func printStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch strings.ToLower(format) {
	case "", outputTable:
		return false, nil
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		// YAML keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(generic)
	default:
		return false, &exitError{
			code: ExitCodeGeneralError,
			err:  fmt.Errorf("unknown output format %q (use table, json or yaml)", format),
		}
	}
}

// printTable writes tab-aligned rows under headers.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
