package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heremaps/xyz-hub-sub001/util/slice"
)

type LogFormat int

const (
	ColorizedOutput LogFormat = iota
	PlaintextOutput
	JSONOutput
)

type NamedLevel struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

type Config struct {
	Production     bool         `yaml:"production"`
	DefaultLevel   string       `yaml:"defaultLevel"`
	Levels         []NamedLevel `yaml:"levels"` // first match wins
	AddOutputPaths []string     `yaml:"outputPaths"`
	DisableStdErr  bool         `yaml:"disableStdErr"`
	Format         LogFormat    `yaml:"format"`
}

// ZapConfig builds the zap configuration described by l
func (l Config) ZapConfig() zap.Config {
	var conf zap.Config
	if l.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
	}
	enc := conf.EncoderConfig
	switch l.Format {
	case PlaintextOutput:
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		conf.Encoding = "console"
	case JSONOutput:
		enc.MessageKey = "msg"
		enc.TimeKey = "ts"
		enc.LevelKey = "level"
		enc.NameKey = "logger"
		enc.CallerKey = "caller"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		conf.Encoding = "json"
	default:
		conf.Encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	conf.EncoderConfig = enc
	if len(l.AddOutputPaths) > 0 {
		conf.OutputPaths = append(conf.OutputPaths, l.AddOutputPaths...)
	}
	if l.DisableStdErr {
		conf.OutputPaths = slice.Filter(conf.OutputPaths, func(path string) bool {
			return path != "stderr"
		})
	}
	if lvl, err := zap.ParseAtomicLevel(l.DefaultLevel); err == nil {
		conf.Level = lvl
	}
	// the root logger must pass everything any named logger wants
	for _, v := range l.Levels {
		if lvl, err := zap.ParseAtomicLevel(v.Level); err == nil && lvl.Level() < conf.Level.Level() {
			conf.Level.SetLevel(lvl.Level())
		}
	}
	return conf
}

// ApplyGlobal builds the logger and replaces the default one
func (l Config) ApplyGlobal() {
	conf := l.ZapConfig()
	lg, err := conf.Build()
	if err != nil {
		Default().Fatal("can't build logger", zap.Error(err))
	}
	mu.Lock()
	loggerConfig = conf
	mu.Unlock()
	SetDefault(lg)
	SetNamedLevels(l.Levels)
}

// LevelsFromStr parses "name1=DEBUG;prefix*=WARN;ERROR" into named levels.
// An entry without a name applies to "*". Unparsable levels are skipped.
func LevelsFromStr(s string) (levels []NamedLevel) {
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, level, found := strings.Cut(kv, "=")
		if !found {
			name, level = "*", kv
		}
		if _, err := zap.ParseAtomicLevel(level); err != nil {
			continue
		}
		levels = append(levels, NamedLevel{Name: strings.TrimSpace(name), Level: strings.TrimSpace(level)})
	}
	return levels
}
