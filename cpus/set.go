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

package cpus

import (
	"fmt"
	"math/bits"
	"slices"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Set is a CPU bit string, such as used for CPU affinity masks. See also
// [sched_setaffinity(2)].
//
// [sched_setaffinity(2)]: https://man7.org/linux/man-pages/man2/sched_setaffinity.2.html
type Set []uint64

// setsize reflects the dynamically determined size of CPU sets accepted by
// the kernel on this system (size in uint64 words). This is usually smaller
// than the fixed-sized [unix.CPUSet] that [unix.SchedGetaffinity] uses.
var setsize atomic.Uint64

const wordbytesize = uint64(unsafe.Sizeof(uint64(0)))
const bitsperword = uint(wordbytesize * 8)

func init() {
	setsize.Store(1)
}

func setBitIndex(cpu uint) int {
	return int(cpu / bitsperword)
}

func setBitMask(cpu uint) uint64 {
	return uint64(1) << (cpu % bitsperword)
}

// IsSet reports whether cpu is in this CPU set.
func (s Set) IsSet(cpu uint) bool {
	if cpu >= uint(len(s))*bitsperword {
		return false
	}
	return s[setBitIndex(cpu)]&setBitMask(cpu) != 0
}

// AddRange adds the CPUs from the specified range, returning an updated Set.
// This updated Set may or may not be the original Set. AddRange panics if
// from is larger than to.
func (s Set) AddRange(from, to uint) Set {
	if from > to {
		panic(fmt.Sprintf("invalid range %d-%d", from, to))
	}
	if to >= uint(len(s))*bitsperword {
		s = append(s, make(Set, setBitIndex(to)-len(s)+1)...)
	}
	for cpu := from; cpu <= to; cpu++ {
		s[setBitIndex(cpu)] |= setBitMask(cpu)
	}
	return s
}

// Count returns the number of CPUs in this set.
func (s Set) Count() uint {
	count := 0
	for _, word := range s {
		count += bits.OnesCount64(word)
	}
	return uint(count)
}

// Single returns the only CPU in this set, if the set contains exactly one
// CPU. Otherwise, it returns false.
func (s Set) Single() (uint, bool) {
	cpu := uint(0)
	found := false
	for idx, word := range s {
		if word == 0 {
			continue
		}
		if found || word&(word-1) != 0 {
			return 0, false
		}
		cpu = uint(idx)*bitsperword + uint(bits.TrailingZeros64(word))
		found = true
	}
	return cpu, found
}

// IsOverlapping returns true if this Set shares at least one CPU with
// another Set.
func (s Set) IsOverlapping(another Set) bool {
	for idx := range min(len(s), len(another)) {
		if s[idx]&another[idx] != 0 {
			return true
		}
	}
	return false
}

// Overlap returns the CPUs common to both this Set and another Set as a new
// Set.
func (s Set) Overlap(another Set) Set {
	overlap := make(Set, min(len(s), len(another)))
	for idx := range overlap {
		overlap[idx] = s[idx] & another[idx]
	}
	return overlap
}

// Union returns a new Set containing the CPUs of both this Set and another
// Set.
func (s Set) Union(another Set) Set {
	if len(another) > len(s) {
		s, another = another, s
	}
	union := slices.Clone(s)
	for idx, word := range another {
		union[idx] |= word
	}
	return union
}

// Affinity returns the affinity CPU Set of the task with the passed TID.
// Otherwise, it returns an error. If tid is zero, then the affinity CPU set
// of the calling thread is returned (make sure to have the OS-level thread
// locked to the calling go routine in this case).
//
// We don't use [unix.SchedGetaffinity] as this is tied to the fixed size
// [unix.CPUSet] type; instead, we dynamically figure out the size the kernel
// wants and cache it.
func Affinity(tid int) (Set, error) {
	setlenStart := setsize.Load()
	setlen := setlenStart
	for {
		set := make(Set, setlen)
		// SYS_SCHED_GETAFFINITY does not block, so RawSyscall is fine here,
		// following Go's stdlib implementation.
		_, _, e := unix.RawSyscall(unix.SYS_SCHED_GETAFFINITY,
			uintptr(tid), uintptr(setlen*wordbytesize), uintptr(unsafe.Pointer(&set[0])))
		if e == unix.EINVAL {
			setlen *= 2
			continue
		}
		if e != 0 {
			return nil, e
		}
		// Publish the new size, unless another go routine has meanwhile
		// already published an even larger size.
		for setlenStart < setlen && !setsize.CompareAndSwap(setlenStart, setlen) {
			setlenStart = setsize.Load()
		}
		return set, nil
	}
}

// SetAffinity sets the CPU affinities for the specified task/process.
// Otherwise, it returns an error. It is an error trying to set no affinities.
func SetAffinity(tid int, cpus Set) error {
	if len(cpus) == 0 {
		return syscall.EINVAL
	}
	_, _, e := unix.RawSyscall(unix.SYS_SCHED_SETAFFINITY,
		uintptr(tid), uintptr(uint64(len(cpus))*wordbytesize), uintptr(unsafe.Pointer(&cpus[0])))
	if e != 0 {
		return e
	}
	return nil
}

// PinTask restricts the task with the specified TID to the CPUs in this Set.
// A zero tid pins the calling thread; callers then need to lock their go
// routine to the current OS-level thread, see [runtime.LockOSThread].
func (s Set) PinTask(tid int) error {
	return SetAffinity(tid, s)
}

// String returns the CPUs in this set in textual list format. In list format,
// individual CPU ranges “x-y” are separated by “,”, and single CPU ranges
// collapsed into “x”.
func (s Set) String() string {
	return s.List().String()
}

// List returns the list of CPU ranges corresponding with this CPU Set.
//
// The bits of each word are consumed run by run: first skipping a run of
// zeros, then taking a run of ones, so all-0s and all-1s words are handled in
// a single step each.
func (s Set) List() List {
	cpulist := List{}
	var open bool // inside a run of set CPUs?
	var from uint
	for idx, word := range s {
		base := uint(idx) * bitsperword
		shift := uint(0)
		for shift < bitsperword {
			rest := word >> shift
			if !open {
				if rest == 0 {
					break
				}
				shift += uint(bits.TrailingZeros64(rest))
				from = base + shift
				open = true
				continue
			}
			ones := uint(bits.TrailingZeros64(^rest))
			if shift+ones >= bitsperword {
				// the run of ones continues into the next word, if any.
				break
			}
			shift += ones
			cpulist = append(cpulist, [2]uint{from, base + shift - 1})
			open = false
		}
	}
	if open {
		cpulist = append(cpulist, [2]uint{from, uint(len(s))*bitsperword - 1})
	}
	return cpulist
}
