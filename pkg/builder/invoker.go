// Package builder invokes the external packaging process for a project and
// manages the produced artifact through the local cache. A cached artifact
// with identical content short-circuits the invocation entirely.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coordtech/packline/pkg/feeds"
)

// InvokeRequest describes one packaging run: the project to pack, where to
// write the artifact, the version to stamp, and the dependency sources in
// priority order.
type InvokeRequest struct {
	ProjectPath string
	OutputDir   string
	Version     string
	Sources     []feeds.Source
}

// InvokeResult is the raw outcome of the external process.
type InvokeResult struct {
	ExitCode     int
	Output       string
	ArtifactPath string
}

// Invoker runs the external packaging process. Tests substitute a fake so
// the core never depends on real tooling.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}

// CLIInvoker shells out to the packaging CLI.
type CLIInvoker struct {
	// Binary is the CLI executable, "uipcli" by default.
	Binary string
}

// NewCLIInvoker creates an invoker for the default CLI binary.
func NewCLIInvoker() *CLIInvoker {
	return &CLIInvoker{Binary: "uipcli"}
}

// Invoke runs "<binary> package pack" with the request's sources. A non-zero
// exit is not an error here; the exit code and combined output are returned
// for the builder to classify.
func (i *CLIInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	args := []string{
		"package", "pack",
		req.ProjectPath,
		"--output", req.OutputDir,
		"--version", req.Version,
	}
	for _, src := range req.Sources {
		args = append(args, "--source", src.URL)
	}

	cmd := exec.CommandContext(ctx, i.Binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	result := &InvokeResult{Output: output.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running packaging process: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if result.ExitCode == 0 {
		path, err := newestArtifact(req.OutputDir)
		if err != nil {
			return nil, err
		}
		result.ArtifactPath = path
	}
	return result, nil
}

// newestArtifact returns the most recently modified .nupkg in dir. The CLI
// names the artifact itself, so the newest file is the one just produced.
func newestArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading output directory: %w", err)
	}

	type candidate struct {
		path string
		mod  int64
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".nupkg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{
			path: filepath.Join(dir, e.Name()),
			mod:  info.ModTime().UnixNano(),
		})
	}
	if len(found) == 0 {
		return "", fmt.Errorf("packaging process produced no artifact in %s", dir)
	}
	sort.Slice(found, func(a, b int) bool { return found[a].mod > found[b].mod })
	return found[0].path, nil
}
