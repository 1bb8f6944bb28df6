package video

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"moonlink/native/internal/domain"
)

const execFrameBacklog = 4

// ExecOptions configures the ffmpeg-backed decoder.
type ExecOptions struct {
	// Path of the ffmpeg binary. Empty means look up "ffmpeg" in PATH.
	Path string
	Log  *slog.Logger
}

// ExecDecoder pipes the elementary stream through an external ffmpeg
// process and reads back fixed-size I420 pictures at the configured
// geometry.
type ExecDecoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	width     int
	height    int
	frameSize int
	frames    chan []byte
	log       *slog.Logger

	mu      sync.Mutex
	readErr error
	done    chan struct{}
}

// NewExecDecoder starts ffmpeg for cfg.Codec.
func NewExecDecoder(cfg DecoderConfig, opts ExecOptions) (*ExecDecoder, error) {
	args, err := ffmpegArgs(cfg)
	if err != nil {
		return nil, err
	}

	path := opts.Path
	if path == "" {
		path = "ffmpeg"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	d := &ExecDecoder{
		cmd:       cmd,
		stdin:     stdin,
		width:     cfg.Width,
		height:    cfg.Height,
		frameSize: I420Size(cfg.Width, cfg.Height),
		frames:    make(chan []byte, execFrameBacklog),
		log:       log.With("component", "ffmpeg-decoder", "codec", cfg.Codec.String()),
		done:      make(chan struct{}),
	}
	go d.readLoop(stdout)

	d.log.Debug("decoder process started", "pid", cmd.Process.Pid, "width", cfg.Width, "height", cfg.Height)
	return d, nil
}

func ffmpegArgs(cfg DecoderConfig) ([]string, error) {
	var demuxer string
	switch cfg.Codec {
	case domain.CodecH264:
		demuxer = "h264"
	case domain.CodecHEVC:
		demuxer = "hevc"
	case domain.CodecAV1:
		demuxer = "obu"
	default:
		return nil, fmt.Errorf("%w: %v", ErrCodecNotSupported, cfg.Codec)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", cfg.Width, cfg.Height)
	}

	return []string{
		"-hide_banner", "-loglevel", "error",
		"-fflags", "nobuffer", "-flags", "low_delay",
		"-f", demuxer, "-i", "pipe:0",
		"-s", strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height),
		"-pix_fmt", "yuv420p",
		"-f", "rawvideo", "pipe:1",
	}, nil
}

func (d *ExecDecoder) readLoop(r io.Reader) {
	defer close(d.done)
	for {
		buf := make([]byte, d.frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			d.mu.Lock()
			d.readErr = err
			d.mu.Unlock()
			return
		}
		select {
		case d.frames <- buf:
		default:
			// Consumer is behind; keep the newest picture.
			select {
			case <-d.frames:
			default:
			}
			d.frames <- buf
		}
	}
}

// Decode writes au to ffmpeg and returns any pictures that are ready.
// Decoding is pipelined, so output lags input by a few frames.
func (d *ExecDecoder) Decode(au []byte) ([]*Picture, error) {
	if err := d.err(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg output closed: %w", domain.ErrDecode, err)
	}
	if _, err := d.stdin.Write(au); err != nil {
		return nil, fmt.Errorf("%w: write to ffmpeg: %w", domain.ErrDecode, err)
	}

	var out []*Picture
	for {
		select {
		case buf := <-d.frames:
			out = append(out, PackedI420(buf, d.width, d.height))
		default:
			return out, nil
		}
	}
}

func (d *ExecDecoder) err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readErr
}

// Close stops ffmpeg and waits for it to exit.
func (d *ExecDecoder) Close() error {
	_ = d.stdin.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	<-d.done
	err := d.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose.
		return nil
	}
	return err
}
