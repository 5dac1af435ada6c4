// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// ClasspathLoader resolves a class internal name to its class file bytes,
// or nil when the class is unknown. Implementations must be safe for
// concurrent use.
type ClasspathLoader interface {
	LoadClass(internalName string) []byte
}

// LoaderFunc adapts a plain function to ClasspathLoader.
type LoaderFunc func(internalName string) []byte

// LoadClass implements ClasspathLoader.
func (f LoaderFunc) LoadClass(internalName string) []byte { return f(internalName) }

// LoaderFromFS reads "<name>.class" resources from a file system.
func LoaderFromFS(fsys fs.FS) ClasspathLoader {
	return LoaderFunc(func(name string) []byte {
		data, err := fs.ReadFile(fsys, name+".class")
		if err != nil {
			return nil
		}
		return data
	})
}

// LoaderFromDir reads class files below a directory root.
func LoaderFromDir(dir string) ClasspathLoader {
	return LoaderFromFS(os.DirFS(dir))
}

// LoaderFromMap serves classes from an in-memory map keyed by internal
// name. The map must not be mutated afterwards.
func LoaderFromMap(classes map[string][]byte) ClasspathLoader {
	return LoaderFunc(func(name string) []byte {
		return classes[name]
	})
}

// LoaderFromJars indexes the class entries of the given archives. Entries
// of earlier archives shadow later ones. The archives must outlive the
// loader.
func LoaderFromJars(jars []*zip.Reader) ClasspathLoader {
	index := map[string]*zip.File{}
	for _, jar := range jars {
		for _, f := range jar.File {
			name, ok := classEntryName(f.Name)
			if !ok {
				continue
			}
			if _, exists := index[name]; !exists {
				index[name] = f
			}
		}
	}
	return LoaderFunc(func(name string) []byte {
		f, ok := index[name]
		if !ok {
			return nil
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil
		}
		return data
	})
}

// LoaderFromJarPaths memory-maps the given jar files and indexes their
// classes. The returned closer unmaps the archives; the loader must not be
// used afterwards.
func LoaderFromJarPaths(paths []string) (ClasspathLoader, func() error, error) {
	var maps []mmap.MMap
	var files []*os.File
	var readers []*zip.Reader
	closer := func() error {
		var first error
		for _, m := range maps {
			if err := m.Unmap(); err != nil && first == nil {
				first = err
			}
		}
		for _, f := range files {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closer()
			return nil, nil, errors.Wrapf(err, "opening classpath jar %s", path)
		}
		files = append(files, f)
		data, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			closer()
			return nil, nil, errors.Wrapf(err, "mapping classpath jar %s", path)
		}
		maps = append(maps, data)
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			closer()
			return nil, nil, errors.Wrapf(err, "reading classpath jar %s", path)
		}
		readers = append(readers, zr)
	}
	return LoaderFromJars(readers), closer, nil
}

// compoundLoader queries sources in order, first hit wins.
type compoundLoader struct {
	loaders []ClasspathLoader
}

func (c *compoundLoader) LoadClass(name string) []byte {
	for _, l := range c.loaders {
		if data := l.LoadClass(name); data != nil {
			return data
		}
	}
	return nil
}

// CompoundLoader tries each loader in registration order and returns the
// first non-nil result. Nested compound loaders are flattened.
func CompoundLoader(loaders ...ClasspathLoader) ClasspathLoader {
	flat := make([]ClasspathLoader, 0, len(loaders))
	for _, l := range loaders {
		if c, ok := l.(*compoundLoader); ok {
			flat = append(flat, c.loaders...)
			continue
		}
		if l != nil {
			flat = append(flat, l)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &compoundLoader{loaders: flat}
}

// MemoizedLoader caches results of the wrapped loader, including misses.
func MemoizedLoader(l ClasspathLoader) ClasspathLoader {
	return MemoizedLoaderTo(l, &sync.Map{})
}

// MemoizedLoaderTo caches into a caller-supplied map, letting several
// loaders share one cache. Values are written at most once per key; the
// first writer wins.
func MemoizedLoaderTo(l ClasspathLoader, cache *sync.Map) ClasspathLoader {
	return LoaderFunc(func(name string) []byte {
		if v, ok := cache.Load(name); ok {
			if v == nil {
				return nil
			}
			return v.([]byte)
		}
		data := l.LoadClass(name)
		if data == nil {
			cache.LoadOrStore(name, nil)
			return nil
		}
		actual, _ := cache.LoadOrStore(name, data)
		if actual == nil {
			return nil
		}
		return actual.([]byte)
	})
}

// RemappingLoader returns class bytes with remapper applied to every class,
// field and method reference.
func RemappingLoader(l ClasspathLoader, remapper *SimpleRemapper) ClasspathLoader {
	return LoaderFunc(func(name string) []byte {
		data := l.LoadClass(name)
		if data == nil {
			return nil
		}
		out, err := remapper.RemapClass(data)
		if err != nil {
			return nil
		}
		return out
	})
}

// RemappingNamesLoader translates lookup keys from the "to" namespace back
// into "from" before loading, then rewrites class name references of the
// result into "to". Member names are left alone.
func RemappingNamesLoader(l ClasspathLoader, m *Mappings, from, to string) (ClasspathLoader, error) {
	fromIdx, err := m.NamespaceIndex(from)
	if err != nil {
		return nil, err
	}
	toIdx, err := m.NamespaceIndex(to)
	if err != nil {
		return nil, err
	}
	reverse := m.classNameMap(toIdx, fromIdx)
	forward := m.classNameMap(fromIdx, toIdx)
	remapper := NewSimpleRemapper(forward, nil)
	return LoaderFunc(func(name string) []byte {
		lookup := name
		if mapped, ok := reverse[name]; ok {
			lookup = mapped
		}
		data := l.LoadClass(lookup)
		if data == nil {
			return nil
		}
		out, err := remapper.RemapClass(data)
		if err != nil {
			return nil
		}
		return out
	}), nil
}

// classEntryName strips the ".class" suffix of an archive entry, reporting
// whether the entry is a class at all.
func classEntryName(entry string) (string, bool) {
	const suffix = ".class"
	if len(entry) <= len(suffix) || entry[len(entry)-len(suffix):] != suffix {
		return "", false
	}
	return entry[:len(entry)-len(suffix)], true
}
