// Copyright 2024 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy
// of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package placer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxThreadNameLen is the maximum length of thread names in bytes; longer
// names get truncated.
const MaxThreadNameLen = 15

// SetThreadName sets the name of the calling thread, as shown by tools such
// as ps and top. Callers should lock their go routine to the OS-level thread.
func SetThreadName(name string) error {
	var buf [MaxThreadNameLen + 1]byte
	copy(buf[:MaxThreadNameLen], name)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}

// ThreadName returns the name of the calling thread.
func ThreadName() (string, error) {
	var buf [MaxThreadNameLen + 1]byte
	if err := unix.Prctl(unix.PR_GET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(buf[:]), nil
}
