package runloop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// PollWait waits on fd with poll(2). Without a descriptor it sleeps for
// timeout. EINTR counts as a timeout.
func PollWait(fd int, timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if ms <= 0 && timeout > 0 {
		ms = 1
	}

	var fds []unix.PollFd
	if fd >= 0 {
		fds = []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	}

	n, err := unix.Poll(fds, ms)
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n == 0 || len(fds) == 0 {
		return false, nil
	}
	// Errors and hangups are reported as ready so Dispatch surfaces them.
	return fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0, nil
}
