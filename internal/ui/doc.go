// Package ui provides terminal output components for the lumenctl CLI.
//
// This package uses Lipgloss to render run-once output: command headers,
// the device table, step lines and result boxes. The interactive control
// panel lives in the panel subpackage and shares this package's palette.
//
// # Usage Pattern
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Device scan", "lumenctl list",
//	    ui.Param{Key: "Broadcast", Value: "255.255.255.255:56700"},
//	    ui.Param{Key: "Window", Value: "2s"},
//	)
//	p.PrintDevices(reg.Devices())
//
// Failures go through PrintError, which adds troubleshooting hints chosen
// from the lanerr kind of the error.
//
// # Logging Integration
//
// Logging is controlled by LUMEN_LOG_LEVEL. When unset, zap logging is
// silent so the curated output is displayed cleanly.
package ui
