package alert

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const DefaultSampleRate = 22050

// Player 播放一个提示音，volume 取值 0..1
type Player interface {
	Play(ctx context.Context, p Pattern, volume float64) error
}

// ExecPlayer 把渲染好的 WAV 通过 stdin 交给外部播放程序，比如 `aplay -q -`
type ExecPlayer struct {
	path       string
	args       []string
	sampleRate int
}

// NewExecPlayer 在 PATH 中找不到播放程序时返回错误，调用方应改用 ToneSynth
func NewExecPlayer(command string) (*ExecPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("no player command configured")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, errors.Wrapf(err, "player %s unavailable", fields[0])
	}
	return &ExecPlayer{path: path, args: fields[1:], sampleRate: DefaultSampleRate}, nil
}

func (p *ExecPlayer) Play(ctx context.Context, pat Pattern, volume float64) error {
	var pcm bytes.Buffer
	if err := render(&pcm, pat, volume, p.sampleRate); err != nil {
		return err
	}
	var wav bytes.Buffer
	writeWAVHeader(&wav, pcm.Len(), p.sampleRate)
	wav.Write(pcm.Bytes())

	cmd := exec.CommandContext(ctx, p.path, p.args...)
	cmd.Stdin = &wav
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "player exited: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// ToneSynth 把正弦波 PCM（16 位单声道小端）直接写到 sink 上。
// 它不依赖任何声音子系统，是播放器不可用时的兜底。
type ToneSynth struct {
	mu         sync.Mutex
	out        io.Writer
	sampleRate int
}

func NewToneSynth(out io.Writer) *ToneSynth {
	if out == nil {
		out = io.Discard
	}
	return &ToneSynth{out: out, sampleRate: DefaultSampleRate}
}

// Discards 表示声音没有任何去处
func (s *ToneSynth) Discards() bool { return s.out == io.Discard }

func (s *ToneSynth) Play(ctx context.Context, p Pattern, volume float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return render(s.out, p, volume, s.sampleRate)
}

// TerminalBell 为每一声向终端写一个 BEL 字符，按图案的节奏间隔。
// 没有配置 PCM 输出时用它兜底。
type TerminalBell struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTerminalBell(out io.Writer) *TerminalBell {
	return &TerminalBell{out: out}
}

func (b *TerminalBell) Discards() bool { return b.out == nil || b.out == io.Discard }

func (b *TerminalBell) Play(ctx context.Context, p Pattern, _ float64) error {
	if b.Discards() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < p.Beeps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.WriteString(b.out, "\a"); err != nil {
			return errors.Wrap(err, "ring terminal bell")
		}
		if i == p.Beeps-1 {
			break
		}
		t := time.NewTimer(p.Beep + p.Gap)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// render 依次写出每一声和它后面的静音
func render(w io.Writer, p Pattern, volume float64, sampleRate int) error {
	volume = math.Max(0, math.Min(1, volume))
	amp := volume * math.MaxInt16
	beep := samples(p.Beep, sampleRate)
	gap := samples(p.Gap, sampleRate)

	buf := make([]byte, 2*(beep+gap))
	for i := 0; i < beep; i++ {
		// 首尾 5ms 做线性淡入淡出，避免爆音
		env := math.Min(1, math.Min(float64(i), float64(beep-1-i))/float64(samples(5*time.Millisecond, sampleRate)))
		v := int16(amp * env * math.Sin(2*math.Pi*p.FrequencyHz*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}

	for n := 0; n < p.Beeps; n++ {
		chunk := buf
		if n == p.Beeps-1 {
			chunk = buf[:2*beep]
		}
		if _, err := w.Write(chunk); err != nil {
			return errors.Wrap(err, "write tone")
		}
	}
	return nil
}

func samples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}

func writeWAVHeader(w io.Writer, dataLen, sampleRate int) {
	le := binary.LittleEndian
	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	le.PutUint32(h[4:], uint32(36+dataLen))
	copy(h[8:], "WAVEfmt ")
	le.PutUint32(h[16:], 16)
	le.PutUint16(h[20:], 1) // PCM
	le.PutUint16(h[22:], 1) // mono
	le.PutUint32(h[24:], uint32(sampleRate))
	le.PutUint32(h[28:], uint32(sampleRate*2))
	le.PutUint16(h[32:], 2)
	le.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	le.PutUint32(h[40:], uint32(dataLen))
	_, _ = w.Write(h)
}
