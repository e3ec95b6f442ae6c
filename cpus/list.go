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
	"errors"
	"iter"
	"strconv"
	"strings"

	"github.com/thediveo/faf"
)

// List is a list of CPU [from...to] ranges. CPU numbers are starting from zero.
type List [][2]uint

// String returns the CPU list in textual format, with the individual ranges
// “x-y” separated by “,” and single CPU ranges collapsed into “x” (instead of
// “x-x”).
func (l List) String() string {
	var b strings.Builder
	for idx, cpurange := range l {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(cpurange[0]), 10))
		if cpurange[0] != cpurange[1] {
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(cpurange[1]), 10))
		}
	}
	return b.String()
}

// NewList returns a new CPU List for the given textual list format. If the text
// is malformed then an error is returned instead. Use [ParseList] when
// anomalies should be tolerated instead.
func NewList(b []byte) (List, error) {
	bs := faf.NewBytestring(b)
	l := List{}
	for !bs.EOL() {
		from, ok := bs.Uint64()
		if !ok {
			return nil, errors.New("expected unsigned integer number")
		}
		to := from
		if bs.EOL() {
			return append(l, [2]uint{uint(from), uint(to)}), nil
		}
		ch, _ := bs.Next()
		if ch == '-' {
			if to, ok = bs.Uint64(); !ok {
				return nil, errors.New("expected unsigned integer number")
			}
			if to < from {
				return nil, errors.New("invalid descending range")
			}
			if bs.EOL() {
				return append(l, [2]uint{uint(from), uint(to)}), nil
			}
			if ch, _ = bs.Next(); ch != ',' {
				return nil, errors.New("expected ','")
			}
		} else if ch != ',' {
			return nil, errors.New("expected '-' or ','")
		}
		// a single CPU or a range, and more to follow after the ","; rinse
		// and repeat.
		l = append(l, [2]uint{uint(from), uint(to)})
	}
	return l, nil
}

// Set returns the CPU Set corresponding with this list.
func (l List) Set() Set {
	if len(l) == 0 {
		return Set{}
	}
	// Do last range first to allocate only once.
	var s Set
	for i := range l {
		r := l[len(l)-i-1]
		s = s.AddRange(r[0], r[1])
	}
	return s
}

// All returns an iterator over the individual CPU numbers in this List, in
// the order of the List's ranges.
func (l List) All() iter.Seq[uint] {
	return func(yield func(uint) bool) {
		for _, cpurange := range l {
			for cpu := cpurange[0]; cpu <= cpurange[1]; cpu++ {
				if !yield(cpu) {
					return
				}
				if cpu == ^uint(0) {
					break
				}
			}
		}
	}
}
