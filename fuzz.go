// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

// Fuzz is the go-fuzz entry point: detect and parse arbitrary input, then
// re-serialize whatever parsed.
func Fuzz(data []byte) int {
	m, err := Parse(data)
	if err != nil {
		return 0
	}
	if _, err := Lines(m); err != nil {
		return 0
	}
	return 1
}
