package device

import "context"

// ScanLock serializes adapter scan and connect across all devices. It is held
// only while a device is looking for its peripheral, never for the lifetime
// of a connection.
type ScanLock struct {
	token chan struct{}
}

func NewScanLock() *ScanLock {
	return &ScanLock{token: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free or ctx ends.
func (l *ScanLock) Acquire(ctx context.Context) error {
	select {
	case l.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ScanLock) Release() {
	select {
	case <-l.token:
	default:
		panic("ScanLock: release of unlocked lock")
	}
}

// Held reports whether some device currently holds the lock.
func (l *ScanLock) Held() bool {
	return len(l.token) == 1
}
