package sandbox

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// confine moves the calling process into req.Root and drops it to
// req.UID/req.GID. The id changes go through the all-threads variants so
// no runtime thread keeps the old identity. no_new_privs only covers the
// calling thread, which serve keeps locked for the rest of the worker.
func confine(req *Request) *SetupError {
	step := func(name string, err error) *SetupError {
		if err == nil {
			return nil
		}
		return &SetupError{Step: name, Err: err.Error()}
	}

	if req.UID == 0 || req.GID == 0 {
		return &SetupError{Step: "identity", Err: "target identity is root"}
	}
	if err := step("chroot", unix.Chroot(req.Root)); err != nil {
		return err
	}
	if err := step("chdir", unix.Chdir("/")); err != nil {
		return err
	}
	if err := step("no_new_privs", unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0)); err != nil {
		return err
	}
	if err := step("setgroups", syscall.Setgroups([]int{})); err != nil {
		return err
	}
	if err := step("setresgid", unix.Setresgid(req.GID, req.GID, req.GID)); err != nil {
		return err
	}
	if err := step("setresuid", unix.Setresuid(req.UID, req.UID, req.UID)); err != nil {
		return err
	}
	return step("verify", verify(req.UID, req.GID))
}

func verify(uid, gid int) error {
	ruid, euid, suid := unix.Getresuid()
	if ruid != uid || euid != uid || suid != uid {
		return fmt.Errorf("uids are %d/%d/%d, want %d", ruid, euid, suid, uid)
	}
	rgid, egid, sgid := unix.Getresgid()
	if rgid != gid || egid != gid || sgid != gid {
		return fmt.Errorf("gids are %d/%d/%d, want %d", rgid, egid, sgid, gid)
	}
	groups, err := unix.Getgroups()
	if err != nil {
		return err
	}
	if len(groups) != 0 {
		return fmt.Errorf("supplementary groups %v remain", groups)
	}
	if err := unix.Setuid(0); err == nil {
		return fmt.Errorf("setuid(0) succeeded after the drop")
	}
	return nil
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
		Setpgid:   true,
	}
}
