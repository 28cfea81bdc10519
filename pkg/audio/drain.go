package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to unblock a capture driver's read goroutine during teardown when
// the remaining frames on a [Stream] are no longer needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
