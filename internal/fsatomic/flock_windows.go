//go:build windows

package fsatomic

import (
	"errors"
	"os"
	"sync"
	"time"
)

var errLockTimeout = errors.New("lock timeout")

// flockExclusive approximates an advisory lock with create-excl of the lock
// file, retrying for up to lockWait. The file is removed on unlock.
func flockExclusive(lockPath string) (func(), error) {
	const lockWait = 5 * time.Second
	deadline := time.Now().Add(lockWait)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			var once sync.Once
			return func() {
				once.Do(func() {
					_ = f.Close()
					_ = os.Remove(lockPath)
				})
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errLockTimeout
		}
		time.Sleep(25 * time.Millisecond)
	}
}
