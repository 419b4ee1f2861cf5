package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ExitTimeout is reported when the command is killed by its deadline.
const ExitTimeout = 124

const (
	FrameEvent = "event"
	FrameReply = "reply"
	FrameError = "error"
)

const maxFrameBytes = 8 << 20

var (
	ErrNoCommand = errors.New("exec command is not configured")
	ErrTimeout   = errors.New("command timed out")
)

// Frame is one JSON line written by a backend on stdout.
type Frame struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event,omitempty"`
	Reply json.RawMessage `json:"reply,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Result 命令执行结果
// Result describes a finished command. Reply is the last reply frame, if any;
// Plain collects stdout lines that were not frames.
type Result struct {
	ExitCode   int             `json:"exit_code"`
	Reply      json.RawMessage `json:"reply,omitempty"`
	Plain      string          `json:"plain"`
	Stderr     string          `json:"stderr"`
	Truncated  bool            `json:"truncated"`
	DurationMS int64           `json:"duration_ms"`
}

type Options struct {
	Command          []string
	Dir              string
	OutputLimitBytes int
	Logger           *log.Logger
}

// Runner 进程执行通道：请求写入 stdin，逐行读取 stdout 帧
// Runner spawns one process per request, writes the request JSON to stdin and
// reads line-delimited frames from stdout.
type Runner struct {
	command     []string
	dir         string
	outputLimit int
	logger      *log.Logger
}

func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		command:     append([]string(nil), opts.Command...),
		dir:         opts.Dir,
		outputLimit: opts.OutputLimitBytes,
		logger:      logger.With("component", "runner"),
	}
}

// Available reports whether the configured binary can be resolved.
func (r *Runner) Available() error {
	if len(r.command) == 0 || strings.TrimSpace(r.command[0]) == "" {
		return ErrNoCommand
	}
	if _, err := exec.LookPath(r.command[0]); err != nil {
		return fmt.Errorf("resolve %s: %w", r.command[0], err)
	}
	return nil
}

// Run executes the command with input on stdin. onEvent receives each event
// frame as it is read. A ctx deadline kills the process and yields ErrTimeout
// with ExitCode 124.
func (r *Runner) Run(ctx context.Context, input any, onEvent func(json.RawMessage)) (Result, error) {
	if len(r.command) == 0 {
		return Result{}, ErrNoCommand
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	cmd.WaitDelay = 2 * time.Second
	stderr := newCappedBuffer(r.outputLimit)
	sink := &frameSink{plain: newCappedBuffer(r.outputLimit), onEvent: onEvent}
	cmd.Stdout = sink
	cmd.Stderr = stderr

	start := time.Now()
	err = cmd.Run()
	sink.flush()

	res := Result{
		Reply:      sink.reply,
		Plain:      sink.plain.String(),
		Stderr:     stderr.String(),
		Truncated:  sink.plain.truncated || stderr.truncated,
		DurationMS: time.Since(start).Milliseconds(),
	}
	r.logger.Debug("command finished", "command", r.command[0], "duration_ms", res.DurationMS, "error", err)
	if err != nil {
		var ee *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.ExitCode = ExitTimeout
			return res, fmt.Errorf("%w after %dms", ErrTimeout, res.DurationMS)
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.As(err, &ee):
			res.ExitCode = ee.ExitCode()
			return res, fmt.Errorf("%s exited with code %d: %s", r.command[0], res.ExitCode, firstLine(sink.backendErr, res.Stderr))
		default:
			return res, fmt.Errorf("run %s: %w", r.command[0], err)
		}
	}
	if sink.backendErr != "" && len(sink.reply) == 0 {
		return res, errors.New(sink.backendErr)
	}
	return res, nil
}

// frameSink splits stdout into lines and routes frames as they complete.
type frameSink struct {
	partial    []byte
	plain      *cappedBuffer
	onEvent    func(json.RawMessage)
	reply      json.RawMessage
	backendErr string
}

func (s *frameSink) Write(p []byte) (int, error) {
	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		s.line(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
	}
	if len(s.partial) > maxFrameBytes {
		_, _ = s.plain.Write(s.partial)
		s.partial = nil
	}
	return len(p), nil
}

func (s *frameSink) flush() {
	if len(s.partial) > 0 {
		s.line(string(s.partial))
		s.partial = nil
	}
}

func (s *frameSink) line(line string) {
	trimmed := strings.TrimSpace(line)
	var f Frame
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &f) == nil {
		switch f.Type {
		case FrameEvent:
			if s.onEvent != nil && len(f.Event) > 0 {
				s.onEvent(f.Event)
			}
			return
		case FrameReply:
			s.reply = f.Reply
			return
		case FrameError:
			s.backendErr = f.Error
			return
		}
	}
	_, _ = s.plain.Write([]byte(line + "\n"))
}

func firstLine(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if i := strings.IndexByte(v, '\n'); i >= 0 {
			return v[:i]
		}
		return v
	}
	return "no output"
}

// FrameWriter writes frames for the backend side of the protocol.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) Event(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return fw.write(Frame{Type: FrameEvent, Event: raw})
}

func (fw *FrameWriter) Reply(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return fw.write(Frame{Type: FrameReply, Reply: raw})
}

func (fw *FrameWriter) Error(err error) error {
	return fw.write(Frame{Type: FrameError, Error: err.Error()})
}

func (fw *FrameWriter) write(f Frame) error {
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(append(line, '\n'))
	return err
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = 1 << 20
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 || b.truncated {
		return len(p), nil
	}
	remain := b.max - b.buf.Len()
	if len(p) > remain {
		if remain > 0 {
			_, _ = b.buf.Write(p[:remain])
		}
		b.truncated = true
		return len(p), nil
	}
	_, err := b.buf.Write(p)
	return len(p), err
}

func (b *cappedBuffer) String() string {
	if !b.truncated {
		return b.buf.String()
	}
	return b.buf.String() + "\n[output truncated]"
}
