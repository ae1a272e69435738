package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Modules. Trace and Debug records are only written for enabled modules;
// Info and above always are.
const (
	RewriteMonitoring  = "rw_mod"     // Substitution engine and handlers
	AllocMonitoring    = "alloc_mod"  // Spill slots and remapping allocator
	DecodeMonitoring   = "decode_mod" // Decoder adapter
	LivenessMonitoring = "live_mod"   // Deprecated liveness hint
	CLIMonitoring      = "cli_mod"    // Command line tool
)

var knownModules = []string{RewriteMonitoring, AllocMonitoring, DecodeMonitoring, LivenessMonitoring, CLIMonitoring}

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

// ParseLevel accepts the level names, case insensitive, plus "warning"
// and "critical".
func ParseLevel(lvl string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(lvl))
	switch name {
	case "warning":
		name = "warn"
	case "critical":
		name = "crit"
	}
	for _, e := range levels {
		if e.name == name {
			return e.level, nil
		}
	}
	return 0, fmt.Errorf("invalid level: %s", lvl)
}

// InitLogger installs a terminal logger on stderr at the given level.
func InitLogger(logLevel string) error {
	lvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, lvl, false)))
	return nil
}

// SetDefault replaces the root logger, and slog's default with it.
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

func Root() Logger {
	return root.Load().(Logger)
}

func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}

type moduleSet struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

func (s *moduleSet) set(module string, on bool) {
	s.mu.Lock()
	s.enabled[module] = on
	s.mu.Unlock()
}

func (s *moduleSet) on(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[module]
}

var modules = moduleSet{enabled: make(map[string]bool, len(knownModules))}

func KnownModules() []string {
	return append([]string(nil), knownModules...)
}

func EnableModule(module string)  { modules.set(module, true) }
func DisableModule(module string) { modules.set(module, false) }

// EnableModules enables a comma separated list of modules; "all" enables
// every known module. Unknown names are enabled too, with a warning.
func EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		switch m = strings.TrimSpace(m); m {
		case "":
		case "all":
			for _, k := range knownModules {
				EnableModule(k)
			}
		default:
			if !isKnown(m) {
				Warn("", "unknown log module", "module", m, "known", strings.Join(knownModules, ","))
			}
			EnableModule(m)
		}
	}
}

func isKnown(module string) bool {
	for _, k := range knownModules {
		if k == module {
			return true
		}
	}
	return false
}

func Trace(module string, msg string, ctx ...interface{}) {
	if modules.on(module) {
		Root().Write(LevelTrace, module, msg, ctx...)
	}
}

func Debug(module string, msg string, ctx ...interface{}) {
	if modules.on(module) {
		Root().Write(LevelDebug, module, msg, ctx...)
	}
}

func Info(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelError, module, msg, ctx...)
}

// Crit logs at the critical level without exiting.
func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, module, msg, ctx...)
}
