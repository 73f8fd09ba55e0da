package metrics

import (
	"time"
)

// Metrics holds the timing breakdown of one transfer attempt. The model is
// the same for every protocol: connectionless transfers report zero setup
// and teardown and attribute all time to Transfer.
type Metrics struct {
	Setup    time.Duration `json:"setup"`
	Transfer time.Duration `json:"transfer"`
	Teardown time.Duration `json:"teardown"`
	Total    time.Duration `json:"total"`
}

// Connectionless returns metrics for a transfer without setup or teardown
func Connectionless(total time.Duration) Metrics {
	return Metrics{Transfer: total, Total: total}
}

// Measure runs fn and returns how long it took together with its error
func Measure(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}

// Stopwatch measures the wall-clock span of a whole attempt while the phases
// are recorded individually
type Stopwatch struct {
	start time.Time
	m     Metrics
}

// StartStopwatch starts timing a new attempt
func StartStopwatch() *Stopwatch {
	return &Stopwatch{start: time.Now()}
}

// Setup runs fn as the setup phase
func (s *Stopwatch) Setup(fn func() error) error {
	d, err := Measure(fn)
	s.m.Setup += d
	return err
}

// Transfer runs fn as the data movement phase
func (s *Stopwatch) Transfer(fn func() error) error {
	d, err := Measure(fn)
	s.m.Transfer += d
	return err
}

// Teardown runs fn as the close phase
func (s *Stopwatch) Teardown(fn func() error) error {
	d, err := Measure(fn)
	s.m.Teardown += d
	return err
}

// Stop returns the recorded metrics with Total set to the time since start
func (s *Stopwatch) Stop() Metrics {
	m := s.m
	m.Total = time.Since(s.start)
	return m
}
