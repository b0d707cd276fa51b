package services

// ProgressFunc receives fractional completion in [0, 1]. Returning a non-nil
// error asks the running operation to stop at the next safe point.
type ProgressFunc func(fraction float64) error

// LogFunc receives human-readable progress lines for the job audit log.
type LogFunc func(message string)
