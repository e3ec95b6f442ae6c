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
	"math"
)

// SyntaxError reports the position in a textual CPU list where parsing
// stopped, together with a description of what was expected instead.
type SyntaxError struct {
	Offset   int    // byte offset of the offending character
	Expected string // description of the expected token
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d: expected %s not met", e.Offset, e.Expected)
}

// ParseList parses a textual CPU list such as “0-3,7” into the individual,
// ascending CPU numbers of its ranges, in the order they appear. At most limit
// CPU numbers are returned; any further CPU numbers are silently dropped,
// while parsing still continues through the remaining text.
//
// In contrast to [NewList], ParseList is forgiving: a descending range such as
// “5-3” contributes no CPU numbers, and whitespace ends the list. Any other
// unexpected character stops parsing; the CPU numbers parsed up to that point
// are returned together with a [*SyntaxError] describing the anomaly.
func ParseList(text []byte, limit int) ([]uint, error) {
	var cpus []uint
	pos := 0
	for pos < len(text) {
		ch := text[pos]
		if isSpace(ch) {
			break
		}
		if !isDigit(ch) {
			return cpus, &SyntaxError{Offset: pos, Expected: "number"}
		}
		var from, to uint
		from, pos = parseNumber(text, pos)
		to = from
		if pos < len(text) && text[pos] == '-' {
			to, pos = parseNumber(text, pos+1)
		}
		for cpu := from; cpu <= to && len(cpus) < limit; cpu++ {
			cpus = append(cpus, cpu)
		}
		if pos >= len(text) {
			break
		}
		switch ch := text[pos]; {
		case ch == ',':
			pos++
		case isSpace(ch):
			return cpus, nil
		default:
			return cpus, &SyntaxError{Offset: pos, Expected: "','"}
		}
	}
	return cpus, nil
}

// parseNumber parses the decimal digits starting at pos, returning the
// number (saturated) and the position of the first non-digit. If there are no
// digits at pos, the number is zero.
func parseNumber(text []byte, pos int) (uint, int) {
	var n uint64
	for ; pos < len(text) && isDigit(text[pos]); pos++ {
		if n <= math.MaxUint32 {
			n = n*10 + uint64(text[pos]-'0')
		}
	}
	return uint(min(n, math.MaxUint32)), pos
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
