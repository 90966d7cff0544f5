package dedupe

// Option configures a Deduper.
type Option func(*set)

// WithMaxSize sets how many keys are kept. Zero or less keeps every key.
func WithMaxSize(maxSize int) Option {
	return func(s *set) {
		s.maxSize = maxSize
	}
}
