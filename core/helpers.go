package orchestration

import (
	"fmt"
	"time"
)

func defaultAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// panicSafeRelease runs one teardown step, turning a panic into an error so
// the remaining steps still run.
func panicSafeRelease(name string, release func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s release panicked: %v", name, recovered)
		}
	}()

	if err = release(); err != nil {
		return fmt.Errorf("%s release failed: %w", name, err)
	}
	return nil
}
