//go:build !unix

package tunnel

import "syscall"

func reuseAddrControl(_, _ string, _ syscall.RawConn) error { return nil }
