package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/splax/conveyor/internal/domain"
)

const (
	buildScript    = "build-app"
	unitTestScript = "unittest-app"

	markerImageID    = "created_image_id="
	markerDockerName = "docker_image_name="
)

var scriptDirs = map[[2]string]string{
	{domain.SourceHeroku, domain.ImageDocker}:     "lp-cedarish/docker",
	{domain.SourceHeroku, domain.ImageQcow2}:      "lp-cedarish/vm",
	{domain.SourceDockerfile, domain.ImageDocker}: "lp-dockerfile/docker",
	{domain.SourceDIB, domain.ImageQcow2}:         "diskimage-builder/vm-slug",
}

// scriptPath resolves the script for a source/image format pair. Empty
// formats default to heroku and docker.
func scriptPath(root, sourceFormat, imageFormat, script string) (string, error) {
	if sourceFormat == "" {
		sourceFormat = domain.SourceHeroku
	}
	if imageFormat == "" {
		imageFormat = domain.ImageDocker
	}
	dir, ok := scriptDirs[[2]string{sourceFormat, imageFormat}]
	if !ok {
		return "", fmt.Errorf("unsupported source/image format %s/%s", sourceFormat, imageFormat)
	}
	return filepath.Join(root, filepath.FromSlash(dir), script), nil
}

type scriptResult struct {
	output   string
	startErr error
	exitErr  error
}

func (r scriptResult) ok() bool {
	return r.startErr == nil && r.exitErr == nil
}

// runScript executes args[0] with the remaining args, streaming combined
// output to out. Failure to start is reported apart from a non-zero exit.
func runScript(ctx context.Context, args, env []string, dir string, out io.Writer) scriptResult {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var buf bytes.Buffer
	w := io.MultiWriter(&buf, out)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		return scriptResult{startErr: err}
	}
	err := cmd.Wait()
	res := scriptResult{output: buf.String()}
	if err != nil {
		if ctx.Err() != nil {
			res.exitErr = fmt.Errorf("script %s timed out: %w", filepath.Base(args[0]), ctx.Err())
		} else {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.exitErr = fmt.Errorf("script %s exited with code %d", filepath.Base(args[0]), exitErr.ExitCode())
			} else {
				res.exitErr = fmt.Errorf("script %s failed: %w", filepath.Base(args[0]), err)
			}
		}
	}
	return res
}

// parseMarkers scans build output for the image markers the build scripts print.
// The last occurrence of each marker wins.
func parseMarkers(output string) (imageID, dockerName string) {
	for _, line := range strings.Split(output, "\n") {
		if v, ok := markerValue(line, markerImageID); ok {
			imageID = v
		}
		if v, ok := markerValue(line, markerDockerName); ok {
			dockerName = v
		}
	}
	return imageID, dockerName
}

func markerValue(line, marker string) (string, bool) {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(line[idx+len(marker):])
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
