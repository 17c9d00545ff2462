// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memsize provides named byte/bit size constants and human-readable
// formatting, used throughout config defaults and bandwidth accounting.
package memsize

import "fmt"

// Byte size constants.
const (
	B  uint64 = 1
	KB        = B * 1024
	MB        = KB * 1024
	GB        = MB * 1024
	TB        = GB * 1024
)

// Bit size constants, decimal per conventional network bandwidth notation.
const (
	Bit  uint64 = 1
	Kbit        = Bit * 1000
	Mbit        = Kbit * 1000
	Gbit        = Mbit * 1000
	Tbit        = Gbit * 1000
)

// Format renders a byte count using the largest whole unit that keeps the
// value >= 1, e.g. "1.50GB".
func Format(bytes uint64) string {
	return format(bytes, "B", B, KB, MB, GB, TB)
}

// BitFormat renders a bit count using the largest whole unit that keeps the
// value >= 1, e.g. "1.50Gbit".
func BitFormat(bits uint64) string {
	return format(bits, "bit", Bit, Kbit, Mbit, Gbit, Tbit)
}

func format(v uint64, unitSuffix string, unit, kilo, mega, giga, tera uint64) string {
	switch {
	case v >= tera:
		return fmt.Sprintf("%.2fT%s", float64(v)/float64(tera), unitSuffix)
	case v >= giga:
		return fmt.Sprintf("%.2fG%s", float64(v)/float64(giga), unitSuffix)
	case v >= mega:
		return fmt.Sprintf("%.2fM%s", float64(v)/float64(mega), unitSuffix)
	case v >= kilo:
		return fmt.Sprintf("%.2fK%s", float64(v)/float64(kilo), unitSuffix)
	case v < unit:
		return fmt.Sprintf("%d%s", v, unitSuffix)
	default:
		return fmt.Sprintf("%.2f%s", float64(v)/float64(unit), unitSuffix)
	}
}
