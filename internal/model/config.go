package model

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	RegistrySQLite = "sqlite"
	RegistryRedis  = "redis"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

const (
	DefaultEngineTimeout   = 5 * time.Minute
	DefaultMaxOutput       = 32 << 20
	DefaultRetentionWindow = 30 * time.Minute
	DefaultSweep           = "@every 1m"
	DefaultListen          = ":4000"
	DefaultRequestTimeout  = 10 * time.Minute
	DefaultMaxUpload       = 200 << 20
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version   int        `json:"version" yaml:"version"` // fixed 0 for now
	Engine    Engine     `json:"engine" yaml:"engine"`
	Workspace *Workspace `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Retention *Retention `json:"retention,omitempty" yaml:"retention,omitempty"`
	Registry  *Registry  `json:"registry,omitempty" yaml:"registry,omitempty"`
	Server    *Server    `json:"server,omitempty" yaml:"server,omitempty"`
	Service   Service    `json:"service" yaml:"service"`
}

// Engine describes how the external processing engine is launched.
type Engine struct {
	Command   []string `json:"command" yaml:"command"`                           // argv prefix, e.g. [python3, main.py]
	Timeout   string   `json:"timeout,omitempty" yaml:"timeout,omitempty"`       // 1d2h3m4s form
	MaxOutput int      `json:"max_output,omitempty" yaml:"max_output,omitempty"` // bytes per stream
	Env       []string `json:"env,omitempty" yaml:"env,omitempty"`
}

type Workspace struct {
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Retention bounds how long an artifact waits for a deferred download.
type Retention struct {
	Window string `json:"window,omitempty" yaml:"window,omitempty"`
	Sweep  string `json:"sweep,omitempty" yaml:"sweep,omitempty"` // cron expression or @every
}

type Registry struct {
	Backend string `json:"backend" yaml:"backend"` // "sqlite" | "redis"
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Redis   *Redis `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

type Server struct {
	Listen         string `json:"listen,omitempty" yaml:"listen,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	MaxUpload      int64  `json:"max_upload,omitempty" yaml:"max_upload,omitempty"`
}

type Service struct {
	Verbose bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig is written to disk when no configuration exists yet.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Engine: Engine{
			Command:   []string{"python3", "pdf-engine/main.py"},
			Timeout:   "5m",
			MaxOutput: DefaultMaxOutput,
		},
		Retention: &Retention{
			Window: "30m",
			Sweep:  DefaultSweep,
		},
		Registry: &Registry{
			Backend: RegistrySQLite,
		},
		Server: &Server{
			Listen:         DefaultListen,
			RequestTimeout: "10m",
		},
		Service: Service{
			Log: LogStderr,
		},
	}
}

// EngineTimeout returns the per invocation wall clock bound.
func (c Config) EngineTimeout() (time.Duration, error) {
	return durationOr(c.Engine.Timeout, DefaultEngineTimeout)
}

func (c Config) EngineMaxOutput() int {
	if c.Engine.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return c.Engine.MaxOutput
}

// WorkspaceDir is the root for request work directories and artifacts.
func (c Config) WorkspaceDir() string {
	if c.Workspace != nil && c.Workspace.Dir != "" {
		return c.Workspace.Dir
	}
	return filepath.Join(os.TempDir(), "pdfbaba")
}

func (c Config) RetentionWindow() (time.Duration, error) {
	if c.Retention == nil {
		return DefaultRetentionWindow, nil
	}
	return durationOr(c.Retention.Window, DefaultRetentionWindow)
}

func (c Config) RetentionSweep() string {
	if c.Retention == nil || c.Retention.Sweep == "" {
		return DefaultSweep
	}
	return c.Retention.Sweep
}

func (c Config) RegistryBackend() string {
	if c.Registry == nil || c.Registry.Backend == "" {
		return RegistrySQLite
	}
	return c.Registry.Backend
}

// RegistryPath is the sqlite database file.
func (c Config) RegistryPath() string {
	if c.Registry != nil && c.Registry.Path != "" {
		return c.Registry.Path
	}
	return filepath.Join(c.WorkspaceDir(), "registry.db")
}

func (c Config) ServerListen() string {
	if c.Server == nil || c.Server.Listen == "" {
		return DefaultListen
	}
	return c.Server.Listen
}

func (c Config) ServerRequestTimeout() (time.Duration, error) {
	if c.Server == nil {
		return DefaultRequestTimeout, nil
	}
	return durationOr(c.Server.RequestTimeout, DefaultRequestTimeout)
}

func (c Config) ServerMaxUpload() int64 {
	if c.Server == nil || c.Server.MaxUpload <= 0 {
		return DefaultMaxUpload
	}
	return c.Server.MaxUpload
}

func durationOr(s string, dflt time.Duration) (time.Duration, error) {
	if s == "" {
		return dflt, nil
	}
	return ParseCueDuration(s)
}
