// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jvmtools/mappings/classfile"
)

func writeTestJar(t *testing.T, path string, entries map[string][]byte, order []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func readJarEntries(t *testing.T, path string) (map[string][]byte, []string) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	entries := map[string][]byte{}
	var order []string
	for _, f := range zr.File {
		b, err := readZipEntry(f)
		if err != nil {
			t.Fatal(err)
		}
		entries[f.Name] = b
		order = append(order, f.Name)
	}
	return entries, order
}

func TestRemapJars(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.jar")
	output := filepath.Join(dir, "output.jar")

	cf, err := classfile.New(classfile.AccPublic|classfile.AccSuper, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddField(classfile.AccPrivate, "b", "Ld;"); err != nil {
		t.Fatal(err)
	}
	classBytes, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	writeTestJar(t, input, map[string][]byte{
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
		"META-INF/SIGN.SF":     []byte("bogus"),
		"META-INF/SIGN.RSA":    {0x30, 0x82},
		"a.class":              classBytes,
		"assets/data.txt":      []byte("hello"),
	}, []string{"META-INF/MANIFEST.MF", "META-INF/SIGN.SF", "META-INF/SIGN.RSA", "a.class", "assets/data.txt"})

	err = RemapJars(context.Background(), &JarRemapConfig{
		Mappings:      parseTinyV2Sample(t),
		CopyResources: true,
		Tasks: []RemapTask{
			{Input: input, Output: output, From: "official", To: "named"},
		},
	})
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	entries, order := readJarEntries(t, output)
	if !stringsEqual(order, []string{"META-INF/MANIFEST.MF", "Main.class", "assets/data.txt"}) {
		t.Fatalf("unexpected entry order %v", order)
	}
	h, err := classfile.ParseHeader(entries["Main.class"])
	if err != nil {
		t.Fatal(err)
	}
	if h.Name != "Main" {
		t.Errorf("remapped class name %q", h.Name)
	}
	if len(h.Fields) != 1 || h.Fields[0].Desc != "LSomeState;" {
		t.Errorf("remapped field %+v", h.Fields)
	}
	if string(entries["assets/data.txt"]) != "hello" {
		t.Error("resource content changed")
	}
}

func TestRemapJarsSkipResources(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.jar")
	output := filepath.Join(dir, "output.jar")
	cf, err := classfile.New(classfile.AccPublic, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	classBytes, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	writeTestJar(t, input, map[string][]byte{
		"a.class":  classBytes,
		"keep.txt": []byte("x"),
	}, []string{"a.class", "keep.txt"})

	err = RemapJars(context.Background(), &JarRemapConfig{
		Mappings: parseTinyV2Sample(t),
		Tasks: []RemapTask{
			{Input: input, Output: output, From: "official", To: "named"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, order := readJarEntries(t, output)
	if !stringsEqual(order, []string{"Main.class"}) {
		t.Errorf("resources copied despite CopyResources=false: %v", order)
	}
}

func TestRemapJarsValidatesNamespaces(t *testing.T) {
	err := RemapJars(context.Background(), &JarRemapConfig{
		Mappings: parseTinyV2Sample(t),
		Tasks: []RemapTask{
			{Input: "in.jar", Output: "out.jar", From: "official", To: "missing"},
		},
	})
	if err == nil {
		t.Fatal("expected namespace validation error")
	}
}

// A failing task must not prevent its sibling from finishing.
func TestRemapJarsSupervision(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.jar")
	goodOut := filepath.Join(dir, "good.jar")
	cf, err := classfile.New(classfile.AccPublic, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	classBytes, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	writeTestJar(t, input, map[string][]byte{"a.class": classBytes}, []string{"a.class"})

	err = RemapJars(context.Background(), &JarRemapConfig{
		Mappings: parseTinyV2Sample(t),
		Tasks: []RemapTask{
			{Input: filepath.Join(dir, "does-not-exist.jar"), Output: filepath.Join(dir, "bad.jar"), From: "official", To: "named"},
			{Input: input, Output: goodOut, From: "official", To: "named"},
		},
	})
	if err == nil {
		t.Fatal("expected the failing task to surface")
	}
	if _, statErr := os.Stat(goodOut); statErr != nil {
		t.Errorf("sibling task did not finish: %v", statErr)
	}
	var kindErr *Error
	if !errors.As(err, &kindErr) || kindErr.Kind != KindTaskFailure {
		t.Errorf("expected a task failure, got %v", err)
	}
}
