package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// NowUs returns Unix microseconds as uint64.
func NowUs() uint64 { return uint64(time.Now().UnixMicro()) }

// SinceUs returns whole microseconds elapsed since t on the monotonic clock.
func SinceUs(t time.Time) uint64 { return uint64(time.Since(t).Microseconds()) }

// Micros converts a microsecond count to a Duration.
func Micros(us uint64) time.Duration { return time.Duration(us) * time.Microsecond }
