package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (connections, warnings, faults)
	LevelLive    = 2 // Live info (per-tick drive commands)
	LevelVerbose = 3 // Verbose (configuration, state transitions)
	LevelTrace   = 4 // Trace (raw serial packets, GPIO)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (connections, retries, diagnostics)
// 2 = live info (one line per axis per tick)
// 3 = verbose (config, state machine transitions)
// 4 = trace (serial packets, GPIO)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = nil
	if level > LevelOff {
		logger = log.New(out, "[SteerGo] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects the debug output, e.g. to tee it into the web status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func printf(minLevel int, format string, args ...interface{}) {
	mu.RLock()
	l, lg := level, logger
	mu.RUnlock()
	if l >= minLevel && lg != nil {
		lg.Printf(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// Warn prints a level 1 warning, e.g. a failed connection attempt.
func Warn(format string, args ...interface{}) {
	printf(LevelInfo, "[WARN] "+format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	printf(LevelInfo, "═══════════════════════════════════════")
	printf(LevelInfo, "  %s", title)
	printf(LevelInfo, "═══════════════════════════════════════")
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// Drive prints one control step of an axis (level 2).
func Drive(unit, axis string, errCounts int64, target float64, encoder int32, output int64, command string) {
	printf(LevelLive, "[LIVE] %s/%s err=%d target=%g enc=%d out=%d cmd=%s",
		unit, axis, errCounts, target, encoder, output, command)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	printf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	printf(LevelVerbose, "  %s", name)
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	printf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	printf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// Serial prints a raw serial packet (level 4).
func Serial(direction string, address uint8, data []byte) {
	printf(LevelTrace, "[SERIAL] %s addr=0x%02x % x", direction, address, data)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR] %v", err)
}

// Fmt returns a formatted string only if debug is enabled
// (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
