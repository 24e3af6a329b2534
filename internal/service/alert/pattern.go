// Package alert 把实时视图上的变化转换成提示音、震动和角标。
package alert

import "time"

// Pattern 是一种提示的声音和震动序列
type Pattern struct {
	Name        string
	FrequencyHz float64
	Beeps       int
	Beep        time.Duration
	Gap         time.Duration
	// Vibration 依次是震动、停顿、震动... 的时长
	Vibration []time.Duration
}

var (
	NewOrder = Pattern{
		Name:        "new-order",
		FrequencyHz: 880,
		Beeps:       3,
		Beep:        150 * time.Millisecond,
		Gap:         100 * time.Millisecond,
		Vibration:   []time.Duration{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond},
	}
	NewRequest = Pattern{
		Name:        "new-request",
		FrequencyHz: 660,
		Beeps:       2,
		Beep:        400 * time.Millisecond,
		Gap:         200 * time.Millisecond,
		Vibration:   []time.Duration{400 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
	}
)

// Duration 是整段声音的长度
func (p Pattern) Duration() time.Duration {
	if p.Beeps <= 0 {
		return 0
	}
	return time.Duration(p.Beeps)*p.Beep + time.Duration(p.Beeps-1)*p.Gap
}
