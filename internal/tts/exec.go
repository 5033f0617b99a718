package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-shellwords"
)

const (
	execCloseGrace   = 2 * time.Second
	execMaxLineBytes = 32 << 20
)

// ExecLoader starts an external engine process per loaded model. The process
// speaks newline-delimited JSON on stdin/stdout.
type ExecLoader struct {
	cmd        []string
	sampleRate int
	logger     *slog.Logger
}

type execRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

func NewExecLoader(command string, sampleRate int, log *slog.Logger) (*ExecLoader, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &ExecLoader{
		cmd:        args,
		sampleRate: sampleRate,
		logger:     log.With(slog.String("component", "tts-exec")),
	}, nil
}

func (l *ExecLoader) Load(ctx context.Context, modelID string) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := append([]string{}, l.cmd[1:]...)
	args = append(args, "--model", modelID, "--sample-rate", strconv.Itoa(l.sampleRate))
	cmd := exec.Command(l.cmd[0], args...)
	cmd.Stderr = &stderrLogger{log: l.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("tts stdin pipe: %w", err)
	}
	// A plain os.Pipe keeps reads independent of cmd.Wait.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("tts stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("start tts engine: %w", err)
	}
	stdoutW.Close()

	scanner := bufio.NewScanner(stdoutR)
	scanner.Buffer(make([]byte, 0, 64*1024), execMaxLineBytes)

	m := &execModel{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdoutR,
		lines:      scanner,
		sampleRate: l.sampleRate,
		exited:     make(chan struct{}),
		logger:     l.logger.With(slog.Int("pid", cmd.Process.Pid)),
	}
	go func() {
		m.waitErr = cmd.Wait()
		close(m.exited)
	}()
	m.logger.Info("tts engine started", slog.String("model", modelID))
	return m, nil
}

type execModel struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *os.File
	lines      *bufio.Scanner
	sampleRate int

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	exited    chan struct{}
	waitErr   error
	logger    *slog.Logger
}

func (m *execModel) SampleRate() int { return m.sampleRate }

func (m *execModel) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed.Load() {
			errs <- ErrModelClosed
			return
		}
		// The engine cannot be interrupted mid-utterance, so a cancelled
		// request takes the process down with it.
		stop := context.AfterFunc(ctx, func() { m.terminate(0) })
		defer stop()

		data, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice, Speed: req.Speed})
		if err != nil {
			errs <- err
			return
		}
		if _, err := m.stdin.Write(append(data, '\n')); err != nil {
			errs <- m.failure(ctx, fmt.Errorf("write tts request: %w", err))
			return
		}

		sequence := 0
		for m.lines.Scan() {
			line := bytes.TrimSpace(m.lines.Bytes())
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fmt.Errorf("decode tts response: %w", err)
				return
			}
			if resp.Error != "" {
				errs <- fmt.Errorf("tts engine: %s", resp.Error)
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- fmt.Errorf("decode tts pcm: %w", err)
				return
			}
			chunk := SynthChunk{
				RequestID:  req.ID,
				Sequence:   sequence,
				SampleRate: m.sampleRate,
				PCM:        pcm,
				Final:      resp.Final,
			}
			select {
			case <-ctx.Done():
				errs <- m.failure(ctx, ctx.Err())
				return
			case chunks <- chunk:
			}
			if resp.Final {
				return
			}
			sequence++
		}
		err = m.lines.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		errs <- m.failure(ctx, err)
	}()
	return chunks, errs
}

// failure marks the model dead and reports err as a closed-model error.
func (m *execModel) failure(ctx context.Context, err error) error {
	m.terminate(0)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrModelClosed, ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrModelClosed, err)
}

func (m *execModel) Close() error {
	m.terminate(execCloseGrace)
	var exitErr *exec.ExitError
	if m.waitErr != nil && !errors.As(m.waitErr, &exitErr) {
		return m.waitErr
	}
	return nil
}

// terminate closes stdin, waits up to grace for the engine to exit, then kills it.
func (m *execModel) terminate(grace time.Duration) {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		_ = m.stdin.Close()
		if grace > 0 {
			select {
			case <-m.exited:
			case <-time.After(grace):
			}
		}
		select {
		case <-m.exited:
		default:
			_ = m.cmd.Process.Kill()
			<-m.exited
		}
		_ = m.stdout.Close()
		m.logger.Info("tts engine stopped")
	})
	<-m.exited
}

type stderrLogger struct {
	log *slog.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			w.log.Debug("tts engine stderr", slog.String("line", string(line)))
		}
	}
	return len(p), nil
}
