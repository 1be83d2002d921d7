package main

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
	yaml "gopkg.in/yaml.v2"
)

// Options is the resolved configuration of one compiler run. Precedence,
// lowest first: built-in defaults, environment, rask.yaml manifest, command
// line flags.
type Options struct {
	Backend            BackendKind
	Arch               Arch
	Platform           Platform
	OptLevel           OptLevel
	IntermediateDir    string
	CleanIntermediates bool
	Coverage           bool
	Jobs               int
}

// DefaultOptions starts from the host target and the environment
func DefaultOptions() *Options {
	return &Options{
		Backend:         BackendAsm,
		Arch:            HostArch(),
		Platform:        HostPlatform(),
		IntermediateDir: env.Str("RASKC_INTERMEDIATE_DIR", ".raskc"),
		Jobs:            env.Int("RASKC_JOBS", runtime.NumCPU()),
	}
}

// Manifest mirrors the optional rask.yaml project file
type Manifest struct {
	Program  string `yaml:"program"`
	Backend  string `yaml:"backend"`
	Target   string `yaml:"target"`
	Platform string `yaml:"platform"`
	OptLevel int    `yaml:"opt_level"`
	Coverage bool   `yaml:"coverage"`
	Sources  []string `yaml:"sources"`
}

// LoadManifest reads a rask.yaml file. A missing file is not an error, the
// caller gets a nil manifest and carries on with flags alone.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &m, nil
}

// Apply folds the manifest into opts, leaving unset manifest fields alone
func (m *Manifest) Apply(opts *Options) error {
	if m == nil {
		return nil
	}
	if m.Backend != "" {
		kind, err := ParseBackendKind(m.Backend)
		if err != nil {
			return err
		}
		opts.Backend = kind
	}
	if m.Target != "" {
		arch, err := ParseArch(m.Target)
		if err != nil {
			return err
		}
		opts.Arch = arch
	}
	if m.Platform != "" {
		platform, err := ParsePlatform(m.Platform)
		if err != nil {
			return err
		}
		opts.Platform = platform
	}
	if m.OptLevel < 0 || m.OptLevel > 3 {
		return errors.Errorf("opt_level %d out of range 0..3", m.OptLevel)
	}
	if m.OptLevel > 0 {
		opts.OptLevel = OptLevel(m.OptLevel)
	}
	if m.Coverage {
		opts.Coverage = true
	}
	return nil
}

// Validate catches combinations no backend can serve before a run starts
func (o *Options) Validate() error {
	if o.OptLevel < 0 || o.OptLevel > 3 {
		return errors.Errorf("optimization level %d out of range 0..3", o.OptLevel)
	}
	if o.Jobs < 0 {
		return errors.Errorf("jobs must be non-negative, got %d", o.Jobs)
	}
	if o.IntermediateDir == "" {
		return errors.New("intermediate directory must not be empty")
	}
	return nil
}
