// Package privdrop switches the process to an unprivileged uid before any
// file is created, so the output belongs to the requesting user.
package privdrop

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// Credentials names the identity a process runs as.
type Credentials struct {
	UID int
	GID int
}

// Current returns the process's effective credentials.
func Current() Credentials {
	return Credentials{UID: unix.Geteuid(), GID: unix.Getegid()}
}

// Resolve picks the group for uid: the user's primary group when the user is
// known to the system, otherwise a group with the same numeric id.
func Resolve(uid int) Credentials {
	creds := Credentials{UID: uid, GID: uid}
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		if gid, err := strconv.Atoi(u.Gid); err == nil {
			creds.GID = gid
		}
	}
	return creds
}

// Drop switches to uid. A negative uid or the current uid is a no-op.
// Group first: after setuid the process may no longer change its group.
func Drop(uid int) (Credentials, error) {
	current := Current()
	if uid < 0 || uid == current.UID {
		return current, nil
	}
	creds := Resolve(uid)
	if err := unix.Setgroups([]int{creds.GID}); err != nil {
		return current, fmt.Errorf("setgroups %d: %w", creds.GID, err)
	}
	if err := unix.Setgid(creds.GID); err != nil {
		return current, fmt.Errorf("setgid %d: %w", creds.GID, err)
	}
	if err := unix.Setuid(creds.UID); err != nil {
		return current, fmt.Errorf("setuid %d: %w", creds.UID, err)
	}
	return Current(), nil
}
