package fetch

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strconv"
)

// A Runner executes the external fetch tool. Separated out so strategy
// behaviour can be tested without the binary.
type Runner interface {
	Run(ctx context.Context, args []string) (stdout, stderr string, err error)
}

// progressRe matches yt-dlp's "[download]  42.7% of ..." lines.
var progressRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

type execRunner struct {
	binary   string
	progress func(percent float64)
}

// NewRunner runs the named binary (normally "yt-dlp"). progress, if
// non-nil, receives download percentages parsed from tool output.
func NewRunner(binary string, progress func(percent float64)) Runner {
	return &execRunner{binary: binary, progress: progress}
}

func (r *execRunner) Run(ctx context.Context, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", err
	}
	if err := cmd.Start(); err != nil {
		return "", stderr.String(), err
	}

	var stdout bytes.Buffer
	r.consume(stdoutPipe, &stdout)

	err = cmd.Wait()
	return stdout.String(), stderr.String(), err
}

// consume tees tool output into the buffer while feeding progress lines
// to the callback.
func (r *execRunner) consume(pipe io.Reader, out *bytes.Buffer) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		out.WriteString(line)
		out.WriteByte('\n')
		if r.progress == nil {
			continue
		}
		if m := progressRe.FindStringSubmatch(line); m != nil {
			if percent, err := strconv.ParseFloat(m[1], 64); err == nil {
				r.progress(percent)
			}
		}
	}
}
