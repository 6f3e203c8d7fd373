package resolver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

const (
	sampleRate     = 48000
	channels       = 2
	frameSamples   = 960 // 20 ms at 48 kHz
	pcmFrameBytes  = frameSamples * channels * 2
	pcmBufferBytes = 128 * 1024
)

// pcmStream runs ffmpeg over the media URL and exposes raw s16le 48 kHz
// stereo PCM on stdout. Seek and speed are baked into the ffmpeg invocation,
// which is why a resource cannot change either once produced.
type pcmStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
}

func startPCMStream(ctx context.Context, inputURL string, seek time.Duration, speed float64) (*pcmStream, error) {
	ctx2, cancel := context.WithCancel(ctx)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
	}
	if seek > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", seek.Seconds()))
	}
	args = append(args, "-i", inputURL, "-vn", "-ac", fmt.Sprint(channels), "-ar", fmt.Sprint(sampleRate))
	if filter := atempoFilter(speed); filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args, "-f", "s16le", "pipe:1")

	cmd := exec.CommandContext(ctx2, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w (stderr: %s)", err, stderr.String())
	}

	return &pcmStream{cmd: cmd, stdout: stdout, stderr: stderr, cancel: cancel}, nil
}

func (s *pcmStream) Close() {
	s.cancel()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// atempoFilter builds an ffmpeg audio filter for the playback speed. atempo
// accepts 0.5–2.0 per stage, so out-of-range speeds are chained.
func atempoFilter(speed float64) string {
	if speed <= 0 || speed == 1.0 {
		return ""
	}
	var stages []string
	for speed > 2.0 {
		stages = append(stages, "atempo=2.0")
		speed /= 2.0
	}
	for speed < 0.5 {
		stages = append(stages, "atempo=0.5")
		speed /= 0.5
	}
	stages = append(stages, fmt.Sprintf("atempo=%.4f", speed))
	out := stages[0]
	for _, s := range stages[1:] {
		out += "," + s
	}
	return out
}

// audioResource adapts the ffmpeg PCM pipe + opus encoder pair to the
// session's frame-stream contract. Single use: once the PCM pipe is drained
// the resource is spent.
type audioResource struct {
	pcm     *pcmStream
	enc     *opusEncoder
	reader  *bufio.Reader
	pcmBuf  []byte
	pending [][]byte
	closed  bool
}

func newAudioResource(ctx context.Context, inputURL string, seek time.Duration, speed float64) (*audioResource, error) {
	pcm, err := startPCMStream(ctx, inputURL, seek, speed)
	if err != nil {
		return nil, err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		pcm.Close()
		return nil, err
	}
	return &audioResource{
		pcm:    pcm,
		enc:    enc,
		reader: bufio.NewReaderSize(pcm.stdout, pcmBufferBytes),
		pcmBuf: make([]byte, pcmFrameBytes),
	}, nil
}

// ReadFrame returns the next 20 ms opus packet, or io.EOF when the source is
// exhausted.
func (r *audioResource) ReadFrame() ([]byte, error) {
	for {
		if len(r.pending) > 0 {
			frame := r.pending[0]
			r.pending = r.pending[1:]
			return frame, nil
		}
		if r.closed {
			return nil, io.EOF
		}

		if _, err := io.ReadFull(r.reader, r.pcmBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read pcm: %w", err)
		}
		err := r.enc.EncodeFrame(r.pcmBuf, func(pkt []byte) error {
			r.pending = append(r.pending, append([]byte(nil), pkt...))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("opus encode: %w", err)
		}
	}
}

func (r *audioResource) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.enc.Close()
	r.pcm.Close()
	return nil
}
