// Package logger wraps zerolog behind the small tag/message API the rest of
// the trader calls: Info/Success/Warn/Error for scan-cycle events, Banner
// and Section for human-readable startup/CLI framing, and Stats for
// one-line key/value reporting.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: "15:04:05",
}).With().Timestamp().Logger()

// SetLevel adjusts the minimum level written, honoring LOG_LEVEL-style
// config without requiring callers to reach into zerolog directly.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Info logs a routine event under tag.
func Info(tag, msg string) {
	base.Info().Str("tag", tag).Msg(msg)
}

// Success logs a positive-outcome event under tag (executed trade, scan
// completion, and the like).
func Success(tag, msg string) {
	base.Info().Str("tag", tag).Str("outcome", "success").Msg(msg)
}

// Warn logs a recoverable anomaly under tag (dropped market, parse
// failure, degraded mode).
func Warn(tag, msg string) {
	base.Warn().Str("tag", tag).Msg(msg)
}

// Error logs a failure under tag.
func Error(tag, msg string) {
	base.Error().Str("tag", tag).Msg(msg)
}

// Banner prints the startup banner with the running version, or a bare
// banner if version is empty.
func Banner(version string) {
	line := "=================================================="
	fmt.Fprintln(os.Stdout, line)
	if version != "" {
		fmt.Fprintf(os.Stdout, "  prediction-market trader  %s\n", version)
	} else {
		fmt.Fprintln(os.Stdout, "  prediction-market trader")
	}
	fmt.Fprintf(os.Stdout, "  %s\n", time.Now().UTC().Format(time.RFC1123))
	fmt.Fprintln(os.Stdout, line)
}

// Section prints a section header, used by the CLI to separate command
// output blocks.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n--- %s ---\n", title)
}

// Stats prints a single key/value line, used for scan-cycle summaries and
// daily-summary records.
func Stats(key string, val interface{}) {
	fmt.Fprintf(os.Stdout, "  %-28s %v\n", key+":", val)
}
