// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"strings"
)

// MapType rewrites every class reference inside a field or type descriptor
// through lookup. Primitives and array brackets pass through untouched, and
// purely primitive descriptors are returned without allocating.
func MapType(desc string, lookup map[string]string) string {
	if len(lookup) == 0 {
		return desc
	}
	i := strings.IndexByte(desc, 'L')
	if i < 0 {
		return desc
	}
	var sb strings.Builder
	sb.Grow(len(desc))
	sb.WriteString(desc[:i])
	for i < len(desc) {
		c := desc[i]
		if c != 'L' {
			sb.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			// Malformed reference type, keep the tail as-is.
			sb.WriteString(desc[i:])
			break
		}
		name := desc[i+1 : i+end]
		if mapped, ok := lookup[name]; ok {
			name = mapped
		}
		sb.WriteByte('L')
		sb.WriteString(name)
		sb.WriteByte(';')
		i += end + 1
	}
	return sb.String()
}

// MapMethodDesc rewrites every class reference inside a method descriptor
// through lookup.
func MapMethodDesc(desc string, lookup map[string]string) string {
	return MapType(desc, lookup)
}

// splitMethodDesc cuts a method descriptor into its argument descriptors and
// return descriptor. ok is false when the descriptor is malformed.
func splitMethodDesc(desc string) (args []string, ret string, ok bool) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", false
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for i < len(desc) && desc[i] == '[' {
			i++
		}
		if i >= len(desc) {
			return nil, "", false
		}
		switch desc[i] {
		case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
			i++
		case 'L':
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				return nil, "", false
			}
			i += end + 1
		default:
			return nil, "", false
		}
		args = append(args, desc[start:i])
	}
	if i >= len(desc) || desc[i] != ')' {
		return nil, "", false
	}
	ret = desc[i+1:]
	if ret == "" {
		return nil, "", false
	}
	return args, ret, true
}

// returnTypeName extracts the internal name of the return type of a method
// descriptor, stripping array dimensions. Primitive returns yield "".
func returnTypeName(desc string) string {
	i := strings.IndexByte(desc, ')')
	if i < 0 || i+1 >= len(desc) {
		return ""
	}
	ret := desc[i+1:]
	ret = strings.TrimLeft(ret, "[")
	if len(ret) > 2 && ret[0] == 'L' && ret[len(ret)-1] == ';' {
		return ret[1 : len(ret)-1]
	}
	return ""
}

// isValidDesc reports whether desc is a well-formed field descriptor.
func isValidDesc(desc string) bool {
	i := 0
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return false
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V':
		return i == len(desc)-1
	case 'L':
		return desc[len(desc)-1] == ';' && len(desc) > i+2
	}
	return false
}

// descLookup adapts a name mapping function into the map consumed by
// MapType. It realizes the function lazily over the names present in desc.
func descLookup(desc string, mapName func(string) string) map[string]string {
	lookup := map[string]string{}
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			break
		}
		name := desc[i+1 : i+end]
		if _, ok := lookup[name]; !ok {
			lookup[name] = mapName(name)
		}
		i += end
	}
	return lookup
}
