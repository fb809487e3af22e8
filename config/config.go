package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variables read by FromEnv.
const (
	EnvWorkbook           = "MCPSHEETS_WORKBOOK"
	EnvAllowedDirs        = "MCPSHEETS_ALLOWED_DIRS"
	EnvDefaultLanguage    = "MCPSHEETS_DEFAULT_LANGUAGE"
	EnvAllowJavaScript    = "MCPSHEETS_ALLOW_JAVASCRIPT"
	EnvDisableScriptTools = "MCPSHEETS_DISABLE_SCRIPT_TOOLS"
	EnvMetricsAddr        = "MCPSHEETS_METRICS_ADDR"
	EnvLogLevel           = "MCPSHEETS_LOG_LEVEL"
)

// Server is the resolved process configuration. Flags set fields first; FromEnv
// fills whatever is still empty.
type Server struct {
	WorkbookPath       string        `validate:"required,filepath_ext"`
	AllowedDirs        []string      `validate:"omitempty,dive,required"`
	DefaultLanguage    string        `validate:"required,dialect"`
	AllowJavaScript    bool
	DisableScriptTools bool
	MetricsAddr        string        `validate:"omitempty,hostname_port"`
	LogLevel           string        `validate:"omitempty,oneof=trace debug info warn error"`
	EvaluationTimeout  time.Duration `validate:"gte=0"`
	ShutdownTimeout    time.Duration `validate:"gte=0"`
}

// Defaults returns a Server populated with package defaults.
func Defaults() Server {
	return Server{
		DefaultLanguage:   DefaultLanguage,
		AllowJavaScript:   true,
		LogLevel:          "info",
		EvaluationTimeout: DefaultEvaluationTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// FromEnv overlays environment variables on s for fields left at their zero
// value, and for the boolean toggles when the variable is set.
func (s Server) FromEnv(getenv func(string) string) Server {
	if getenv == nil {
		getenv = os.Getenv
	}
	if s.WorkbookPath == "" {
		s.WorkbookPath = strings.TrimSpace(getenv(EnvWorkbook))
	}
	if len(s.AllowedDirs) == 0 {
		if list := getenv(EnvAllowedDirs); list != "" {
			s.AllowedDirs = filepath.SplitList(list)
		}
	}
	if v := strings.TrimSpace(getenv(EnvDefaultLanguage)); v != "" {
		s.DefaultLanguage = strings.ToLower(v)
	}
	if v, ok := parseBool(getenv(EnvAllowJavaScript)); ok {
		s.AllowJavaScript = v
	}
	if v, ok := parseBool(getenv(EnvDisableScriptTools)); ok {
		s.DisableScriptTools = v
	}
	if s.MetricsAddr == "" {
		s.MetricsAddr = strings.TrimSpace(getenv(EnvMetricsAddr))
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		s.LogLevel = strings.ToLower(v)
	}
	return s
}

// ResolvedAllowedDirs returns the allow-list, defaulting to the workbook's own
// directory when none was configured.
func (s Server) ResolvedAllowedDirs() []string {
	if len(s.AllowedDirs) > 0 {
		return s.AllowedDirs
	}
	if s.WorkbookPath == "" {
		return nil
	}
	return []string{filepath.Dir(s.WorkbookPath)}
}

// parseBool accepts 1/true/yes and 0/false/no; ok is false for anything else.
func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}
