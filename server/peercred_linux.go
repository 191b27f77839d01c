//go:build linux

package server

import (
	"net"

	"golang.org/x/sys/unix"

	"sockopt/message"
)

const peerCredSupported = true

// peerOf reads SO_PEERCRED from a Unix-domain connection.
func peerOf(conn net.Conn) message.Peer {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return message.Peer{}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return message.Peer{}
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || credErr != nil || cred == nil {
		return message.Peer{}
	}
	return message.Peer{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}
}
