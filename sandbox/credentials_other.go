//go:build !linux

package sandbox

import "syscall"

func confine(req *Request) *SetupError {
	return &SetupError{Step: "chroot", Err: "confinement is only implemented on linux"}
}

func sysProcAttr() *syscall.SysProcAttr { return nil }
