// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mozilla.org/pkcs7"
	"golang.org/x/sync/errgroup"

	"github.com/jvmtools/mappings/classfile"
)

// RemapTask is one archive to remap between two namespaces.
type RemapTask struct {
	Input  string
	Output string
	From   string
	To     string
}

// ResourceVisitor inspects (and may replace) a non-class archive entry.
// Returning false drops the entry.
type ResourceVisitor func(name string, data []byte) ([]byte, bool)

// ClassVisitor mutates a remapped class node before it is written. Visitors
// run concurrently across tasks and must be stateless or synchronized.
type ClassVisitor func(cf *classfile.ClassFile) error

// JarRemapConfig configures RemapJars.
type JarRemapConfig struct {
	Mappings *Mappings

	Tasks []RemapTask

	// Classpath resolves classes outside the input archives for
	// inheritance-aware name resolution. Optional.
	Classpath ClasspathLoader

	// ClassVisitors run in order on every remapped class.
	ClassVisitors []ClassVisitor

	// ResourceVisitors run in order on every copied resource; the first
	// one to reject an entry drops it. The JAR-signature stripper is
	// always appended.
	ResourceVisitors []ResourceVisitor

	// CopyResources controls whether non-class entries reach the output.
	CopyResources bool

	// Workers caps concurrent tasks; zero means GOMAXPROCS.
	Workers int

	// Logger receives per-task progress. Defaults to an error-level
	// logger on stderr.
	Logger *logrus.Logger
}

// RemapJars runs every task concurrently under a supervised scope. A task
// failure does not abort its siblings; the aggregated error of all failed
// tasks is returned. Partial outputs of failed tasks are left on disk for
// the caller to discard.
func RemapJars(ctx context.Context, cfg *JarRemapConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
	}

	// Fail early on namespaces no task can resolve.
	pairs := map[[2]string]map[string]string{}
	for _, task := range cfg.Tasks {
		if _, err := cfg.Mappings.NamespaceIndex(task.From); err != nil {
			return err
		}
		if _, err := cfg.Mappings.NamespaceIndex(task.To); err != nil {
			return err
		}
		pairs[[2]string{task.From, task.To}] = nil
	}
	// One name table per distinct namespace pair, shared by all tasks.
	for pair := range pairs {
		table, err := cfg.Mappings.ASMMapping(pair[0], pair[1], true, true)
		if err != nil {
			return err
		}
		pairs[pair] = table
	}

	resourceVisitors := append(append([]ResourceVisitor(nil), cfg.ResourceVisitors...),
		SignatureStripper(logger))

	// All tasks share one byte cache over the external classpath.
	sharedCache := &sync.Map{}
	var sharedLoader ClasspathLoader
	if cfg.Classpath != nil {
		sharedLoader = MemoizedLoaderTo(cfg.Classpath, sharedCache)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	var mu sync.Mutex
	var failures *multierror.Error
	for _, task := range cfg.Tasks {
		task := task
		g.Go(func() error {
			err := remapOneJar(ctx, cfg, task, pairs[[2]string{task.From, task.To}], sharedLoader, resourceVisitors, logger)
			if err != nil {
				err = &Error{Kind: KindTaskFailure, Msg: "remapping " + task.Input, Err: err}
				mu.Lock()
				failures = multierror.Append(failures, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return failures.ErrorOrNil()
}

func remapOneJar(ctx context.Context, cfg *JarRemapConfig, task RemapTask, nameMap map[string]string, sharedLoader ClasspathLoader, resourceVisitors []ResourceVisitor, logger *logrus.Logger) error {
	in, err := os.Open(task.Input)
	if err != nil {
		return errors.Wrap(err, "opening input archive")
	}
	defer in.Close()
	data, err := mmap.Map(in, mmap.RDONLY, 0)
	if err != nil {
		return errors.Wrap(err, "mapping input archive")
	}
	defer data.Unmap()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.Wrap(err, "reading input archive")
	}

	// Local classes shadow the shared classpath during resolution.
	local := map[string][]byte{}
	for _, f := range zr.File {
		name, ok := classEntryName(f.Name)
		if !ok {
			continue
		}
		b, err := readZipEntry(f)
		if err != nil {
			return err
		}
		local[name] = b
	}
	loader := CompoundLoader(LoaderFromMap(local), sharedLoader)
	inh := Memoized(&LoaderInheritance{Loader: loader})
	remapper := NewSimpleRemapper(nameMap, inh)

	out, err := os.Create(task.Output)
	if err != nil {
		return errors.Wrap(err, "creating output archive")
	}
	defer out.Close()
	zw := zip.NewWriter(out)

	logger.WithFields(logrus.Fields{
		"input":   task.Input,
		"classes": len(local),
		"from":    task.From,
		"to":      task.To,
	}).Info("remapping archive")

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name, isClass := classEntryName(f.Name)
		if !isClass {
			if !cfg.CopyResources {
				continue
			}
			b, err := readZipEntry(f)
			if err != nil {
				return err
			}
			kept := true
			for _, visit := range resourceVisitors {
				if b, kept = visit(f.Name, b); !kept {
					break
				}
			}
			if !kept {
				continue
			}
			if err := writeZipEntry(zw, f.Name, b); err != nil {
				return err
			}
			continue
		}

		cf, err := classfile.Parse(local[name])
		if err != nil {
			return errors.Wrapf(err, "parsing class %s", name)
		}
		if err := remapper.RemapClassNode(cf); err != nil {
			return errors.Wrapf(err, "remapping class %s", name)
		}
		for _, visit := range cfg.ClassVisitors {
			if err := visit(cf); err != nil {
				return errors.Wrapf(err, "visiting class %s", name)
			}
		}
		// The owner may have been changed by the remapper or any visitor;
		// the entry name follows whatever the node says now.
		b, err := cf.Bytes()
		if err != nil {
			return errors.Wrapf(err, "serializing class %s", name)
		}
		if err := writeZipEntry(zw, cf.Name()+".class", b); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "finishing output archive")
	}
	return out.Close()
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening entry %s", f.Name)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "reading entry %s", f.Name)
	}
	return b, nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "creating entry %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "writing entry %s", name)
	}
	return nil
}

// SignatureStripper drops JAR signing material, which a remapped archive
// can never satisfy. Signature blocks that parse as PKCS#7 get their loss
// logged at debug level with the certificate count.
func SignatureStripper(logger *logrus.Logger) ResourceVisitor {
	return func(name string, data []byte) ([]byte, bool) {
		upper := strings.ToUpper(name)
		if !strings.HasPrefix(upper, "META-INF/") {
			return data, true
		}
		switch {
		case strings.HasSuffix(upper, ".SF"):
			return nil, false
		case strings.HasSuffix(upper, ".RSA"):
			func() {
				// The PKCS#7 parser panics on some truncated DER input; such
				// a block is dropped without a log entry.
				defer func() { _ = recover() }()
				if p7, err := pkcs7.Parse(data); err == nil {
					logger.WithFields(logrus.Fields{
						"entry":        name,
						"certificates": len(p7.Certificates),
					}).Debug("dropping signature block")
				}
			}()
			return nil, false
		}
		return data, true
	}
}
