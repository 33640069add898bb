package shared

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charmbracelet/log"

	"github.com/sqledger/sqledger"
)

type Flags struct {
	LogFormat   *string        // see logger.go
	Database    *string        // see root.go
	Changelog   *string        // see root.go
	Dialect     *string        // see root.go
	TableName   *string        // see root.go
	ConfigFile  *string        // see root.go
	AppliedBy   *string        // see root.go
	LockTimeout *time.Duration // see root.go
}

type Config struct {
	Database    string    `yaml:"database"`
	Changelog   string    `yaml:"changelog"`
	Dialect     string    `yaml:"dialect"`
	TableName   string    `yaml:"table_name"`
	LogFormat   LogFormat `yaml:"log_format"`
	AppliedBy   string    `yaml:"applied_by"`
	LockTimeout string    `yaml:"lock_timeout"`
}

type StateT struct {
	Flags  Flags
	Config Config
}

var State StateT

// Parse reads the resolved config file, if any, into State.Config. Flag and
// environment values still win over anything it contains.
func (state *StateT) Parse() {
	cf := state.Configfile()
	if !cf.IsSet() {
		return
	}
	file, err := os.Open(cf.Value())
	if err != nil {
		panic(fmt.Errorf("open config: %w", err))
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		panic(fmt.Errorf("read config: %w", err))
	}
	if err := yaml.Unmarshal(contents, &state.Config); err != nil {
		panic(fmt.Errorf("parse config: %w", err))
	}
}

func (state StateT) Configfile() Variable[string] {
	return NewVariable(
		"configfile",
		*state.Flags.ConfigFile,
		os.Getenv("SQLEDGER_CONFIGFILE"),
		CheckPath(".sqledger.yaml"), // in cwd
		RepoPath(".sqledger.yaml"),  // in repo root
		"",                          // default to missing
	)
}

func (state StateT) Database() Variable[string] {
	return NewVariable(
		"database",
		*state.Flags.Database,
		os.Getenv("SQLEDGER_DATABASE"),
		state.Config.Database,
		"", // default to missing
	)
}

func (state StateT) Changelog() Variable[string] {
	return NewVariable(
		"changelog",
		*state.Flags.Changelog,
		os.Getenv("SQLEDGER_CHANGELOG"),
		state.Config.Changelog,
		"", // default to missing
	)
}

func (state StateT) DialectName() Variable[string] {
	return NewVariable(
		"dialect",
		*state.Flags.Dialect,
		os.Getenv("SQLEDGER_DIALECT"),
		state.Config.Dialect,
		"", // default to missing; inferred from the database URL
	)
}

func (state StateT) TableName() Variable[string] {
	return NewVariable(
		"table",
		*state.Flags.TableName,
		os.Getenv("SQLEDGER_TABLE"),
		state.Config.TableName,
		"", // default to missing; the dialect's default ledger table
	)
}

func (state StateT) LogFormat() Variable[LogFormat] {
	return NewVariable(
		"log-format",
		LogFormat(*state.Flags.LogFormat),
		LogFormat(os.Getenv("SQLEDGER_LOG_FORMAT")),
		state.Config.LogFormat,
		LogFormatText, // default
	)
}

func (state StateT) AppliedBy() Variable[string] {
	return NewVariable(
		"applied-by",
		*state.Flags.AppliedBy,
		os.Getenv("SQLEDGER_APPLIED_BY"),
		state.Config.AppliedBy,
		"", // default to missing; the engine falls back to the OS user
	)
}

func (state StateT) LockTimeout() Variable[time.Duration] {
	return NewVariable(
		"lock-timeout",
		*state.Flags.LockTimeout,
		parseDuration(os.Getenv("SQLEDGER_LOCK_TIMEOUT")),
		parseDuration(state.Config.LockTimeout),
		sqledger.DefaultLockTimeout, // default
	)
}

func (state StateT) Logger() (*log.Logger, LogAdapter) {
	var logger *log.Logger
	format := state.LogFormat().Value()
	switch format {
	case LogFormatText:
		logger = log.NewWithOptions(os.Stdout, log.Options{Formatter: log.TextFormatter})
	case LogFormatJSON:
		logger = log.NewWithOptions(os.Stdout, log.Options{Formatter: log.JSONFormatter})
	default:
		panic(fmt.Errorf("unknown log format: %s", format))
	}
	return logger, LogAdapter{logger}
}

// parseDuration is forgiving: empty or invalid values resolve to zero so that
// the next candidate in the precedence chain wins.
func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func RepoPath(p string) string {
	root, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	rootConfig := path.Join(strings.TrimSpace(string(root)), p)
	return CheckPath(rootConfig)
}

func CheckPath(p string) string {
	p, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
