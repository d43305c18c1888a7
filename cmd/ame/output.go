package main

import (
	"fmt"
	"os"
)

// Human-facing diagnostics go to stderr so piped command output stays clean.
// Colors are suppressed by --no-color.

const (
	sgrReset  = "\033[0m"
	sgrRed    = "\033[31m"
	sgrGreen  = "\033[32m"
	sgrYellow = "\033[33m"
	sgrBold   = "\033[1m"
)

func styled(sgr, s string) string {
	if noColor {
		return s
	}
	return sgr + s + sgrReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styled(sgrGreen, fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", styled(sgrRed, "error:"), fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", styled(sgrYellow, "warning:"), fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", styled(sgrBold, label+":"), fmt.Sprintf(format, args...))
}
