// Package logx provides the module-scoped, key/value structured logger used
// throughout the indexer. The call signature (Info/Warn/Error/Crit with a
// message followed by alternating key/value pairs) mirrors the logger facade
// klaytn and go-ethereum build on top of log15; here it is backed by zap's
// SugaredLogger instead.
package logx

import (
	"os"

	"github.com/naoina/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names, grouped the way klaytn groups its own (log.StorageDatabase,
// log.ChainDataFetcher, ...): one constant per subsystem that calls
// NewModuleLogger.
const (
	ModuleDownloader = "downloader"
	ModuleBuilder    = "builder"
	ModuleResolver   = "resolver"
	ModuleStore      = "store"
	ModuleSnapshot   = "snapshot"
	ModuleLoop       = "loop"
	ModuleNodeClient = "nodeclient"
	ModuleDB         = "db"
)

var root *zap.Logger

func init() {
	Init("")
}

// fileConfig is the shape of the optional LOG_CONFIG_FILE_PATH TOML file,
// decoded with naoina/toml the way klaytn's node/config.go decodes its own
// static TOML config file via struct tags.
type fileConfig struct {
	Level    string `toml:"level"`
	Encoding string `toml:"encoding"`
}

// Init (re)configures the process-wide root logger. cfgPath, when non-empty,
// names a TOML file overriding level/encoding; an empty or unreadable path
// falls back to a sane production default so the indexer never fails to
// start for want of a log config file.
func Init(cfgPath string) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "ts"

	if cfgPath != "" {
		if data, err := os.ReadFile(cfgPath); err == nil {
			var fc fileConfig
			if tomlErr := toml.Unmarshal(data, &fc); tomlErr != nil {
				// malformed config file: keep the production default rather
				// than fail startup over a logging preference.
			} else {
				if fc.Level != "" {
					if lvl, lvlErr := zapcore.ParseLevel(fc.Level); lvlErr == nil {
						cfg.Level = zap.NewAtomicLevelAt(lvl)
					}
				}
				if fc.Encoding != "" {
					cfg.Encoding = fc.Encoding
				}
			}
		}
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewExample()
	}
	root = l
}

// Logger is the per-module logging facade. Calls are cheap to construct:
// NewModuleLogger just attaches a "module" field to the shared root logger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewModuleLogger returns a Logger tagged with the given module name, the way
// klaytn's log.NewModuleLogger(log.ChainDataFetcher) tags every line emitted
// by the chaindata fetcher.
func NewModuleLogger(module string) Logger {
	return Logger{s: root.With(zap.String("module", module)).Sugar()}
}

func (l Logger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l Logger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l Logger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l Logger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// Crit logs at error level and terminates the process, mirroring klaytn's
// logger.Crit for conditions the indexer cannot continue past (e.g. an
// unsupported configuration at startup).
func (l Logger) Crit(msg string, kv ...interface{}) {
	l.s.Errorw(msg, kv...)
	os.Exit(1)
}

// Sync flushes any buffered log entries; call once from main before exit.
func Sync() {
	_ = root.Sync()
}
