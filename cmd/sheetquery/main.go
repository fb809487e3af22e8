// Package main provides sheetquery, a command-line front end to the sheet
// query engine for inspecting a workbook without an MCP client.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
