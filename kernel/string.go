package main

import "unsafe"

func memcpy(dst, src uintptr, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		*(*byte)(unsafe.Pointer(dst + i)) = *(*byte)(unsafe.Pointer(src + i))
	}
}

// memcmp compares n bytes starting at a and b, xv6-style (0 on equal).
func memcmp(a, b uintptr, n uintptr) int {
	for i := uintptr(0); i < n; i++ {
		ba := *(*byte)(unsafe.Pointer(a + i))
		bb := *(*byte)(unsafe.Pointer(b + i))
		if ba != bb {
			return int(ba) - int(bb)
		}
	}
	return 0
}

// copyName truncates src to at most len(dst)-1 bytes and NUL-terminates it
// into dst, matching proc_create's/proc_fork's 19-byte PCB name convention
// (spec.md §3).
func copyName(dst []byte, src string) {
	n := len(dst) - 1
	if n > len(src) {
		n = len(src)
	}
	i := 0
	for ; i < n; i++ {
		dst[i] = src[i]
	}
	dst[i] = 0
}

func nameString(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
