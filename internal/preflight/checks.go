package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// CheckOutputLocation verifies that the output file's directory exists or can
// be created: the nearest existing ancestor must be a writable directory.
func CheckOutputLocation(name, outputPath string) Result {
	dir := filepath.Dir(outputPath)
	existing, err := nearestExisting(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	info, err := os.Stat(existing)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", existing, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", existing)}
	}
	if err := unix.Access(existing, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not writable: %v)", existing, err)}
	}
	if existing != dir {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created under %s)", dir, existing)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (writable)", dir)}
}

func nearestExisting(dir string) (string, error) {
	current := dir
	for {
		_, err := os.Stat(current)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor of %s", dir)
		}
		current = parent
	}
}

// CheckFreeSpace warns when the output filesystem has less than minBytes free.
func CheckFreeSpace(name, outputPath string, minBytes uint64) Result {
	dir, err := nearestExisting(filepath.Dir(outputPath))
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", dir, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), dir)
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (want at least %s)", detail, humanize.IBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckStreamAddress validates a stream endpoint such as tcp://host:port.
func CheckStreamAddress(address string) Result {
	const name = "Stream address"

	scheme, rest, ok := strings.Cut(strings.TrimSpace(address), "://")
	if !ok || rest == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%q (error: want transport://endpoint)", address)}
	}
	switch scheme {
	case "tcp":
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", address, err)}
		}
		if host == "" || port == "" {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: host and port required)", address)}
		}
	case "ipc", "inproc":
	default:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: unsupported transport %q)", address, scheme)}
	}
	return Result{Name: name, Passed: true, Detail: address}
}

// CheckUpstream verifies that the notification endpoint accepts TCP
// connections. Notifications are best effort, so this check is advisory.
func CheckUpstream(ctx context.Context, address string) Result {
	const name = "Upstream notifications"

	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil || u.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%q (error: not an http url)", address)}
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (unreachable: %v)", address, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", address)}
}
