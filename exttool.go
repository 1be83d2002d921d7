package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// toolResult captures one finished external tool invocation
type toolResult struct {
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	ExitCode int
}

// runTool runs argv[0] with argv[1:] synchronously under a bounded timeout,
// capturing stdout and stderr. A timeout or non-zero exit is an error
// carrying the captured output; the caller decides whether to retry the
// whole phase, runTool itself never retries.
func runTool(ctx context.Context, argv []string, timeout time.Duration) (*toolResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty tool command line")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	glog.V(1).Infof("exec: %s", strings.Join(argv, " "))
	err := cmd.Run()
	res := &toolResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return res, errors.Errorf("%s timed out after %s", argv[0], timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return res, errors.Wrapf(err, "%s failed: %s", argv[0], msg)
	}
	return res, nil
}

// withTempFile creates a temp file in dir, hands its path to fn and removes
// it again no matter how fn or the tool it launched finished.
func withTempFile(dir, pattern string, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)
	return fn(path)
}

// toolInfo is one discovered external executable
type toolInfo struct {
	Name    string
	Path    string
	Version semver.Version
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseToolVersion pulls the first dotted version out of a --version banner
func parseToolVersion(banner string) (semver.Version, error) {
	m := versionPattern.FindStringSubmatch(banner)
	if m == nil {
		return semver.Version{}, errors.Errorf("no version number in %q", firstLine(banner))
	}
	text := m[1] + "." + m[2] + "."
	if m[3] != "" {
		text += m[3]
	} else {
		text += "0"
	}
	return semver.Parse(text)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// findTool walks PATH for an executable with one of the given names,
// queries its version and enforces the minimum. Discovery happens once per
// run; the result is cached by the caller.
func findTool(ctx context.Context, names []string, minVersion semver.Version) (*toolInfo, error) {
	// A candidate that cannot be probed never blocks the remaining names;
	// a broken first choice falls through to the next.
	var failures []string
	for _, name := range names {
		path, err := lookPath(name)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: not found in PATH", name))
			continue
		}
		res, err := runTool(ctx, []string{path, "--version"}, 10*time.Second)
		if err != nil {
			failures = append(failures, fmt.Sprintf("probe %s: %v", path, err))
			glog.V(1).Infof("skipping %s: version probe failed: %v", path, err)
			continue
		}
		ver, err := parseToolVersion(res.Stdout)
		if err != nil {
			failures = append(failures, fmt.Sprintf("probe %s: %v", path, err))
			glog.V(1).Infof("skipping %s: %v", path, err)
			continue
		}
		if ver.LT(minVersion) {
			failures = append(failures, fmt.Sprintf("%s is version %s, need at least %s", path, ver, minVersion))
			continue
		}
		glog.V(1).Infof("found %s %s at %s", name, ver, path)
		return &toolInfo{Name: name, Path: path, Version: ver}, nil
	}
	return nil, errors.Errorf("no usable tool among %s: %s",
		strings.Join(names, ", "), strings.Join(failures, "; "))
}

// lookPath resolves a bare tool name against PATH, checking that the match
// is a regular file we may execute.
func lookPath(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if err := isExecutable(name); err != nil {
			return "", err
		}
		return name, nil
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if err := isExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Errorf("%s not found in PATH", name)
}
