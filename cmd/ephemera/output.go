package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		for _, k := range sortedKeys(data) {
			fmt.Fprintf(stdout, "%s=%v\n", k, data[k])
		}
	default: // table
		printTable(data)
	}
}

// printContent writes a received message. Only json wraps it; table and raw
// print the plaintext as is.
func printContent(content string) {
	if outputFormat == "json" {
		printResult(map[string]any{"content": content})
		return
	}
	fmt.Fprint(stdout, content)
	if n := len(content); n == 0 || content[n-1] != '\n' {
		fmt.Fprintln(stdout)
	}
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		fmt.Fprintf(w, "%s\t%v\n", k, data[k])
	}
	w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printError(msg string) {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Fprintln(stdout, msg)
}
