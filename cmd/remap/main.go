// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jvmtools/mappings"
)

const usage = "usage: remap [-s|--skip-resources] [-f|--force] [-v|--stacktrace] -- <input> <output> <mappings> <from> <to> [classpath...]"

var (
	skipResources bool
	force         bool
	stacktrace    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "remap",
		Short:         "Remap a jar between mapping namespaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.Flags().BoolVarP(&skipResources, "skip-resources", "s", false,
		"Do not copy non-class resources to the output")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false,
		"Overwrite the output file when it exists")
	rootCmd.Flags().BoolVarP(&stacktrace, "stacktrace", "v", false,
		"Print full stack traces on failure")

	if err := rootCmd.Execute(); err != nil {
		if stacktrace {
			fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(-1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(cmd *cobra.Command, args []string) error {
	if len(args) < 5 {
		fmt.Println(usage)
		os.Exit(-1)
	}
	input, output, mappingsPath := args[0], args[1], args[2]
	from, to := args[3], args[4]
	classpath := args[5:]

	for _, required := range append([]string{input, mappingsPath}, classpath...) {
		if _, err := os.Stat(required); err != nil {
			fmt.Println(usage)
			return usageError("missing file: " + required)
		}
	}
	if dir := filepath.Dir(output); dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			fmt.Println(usage)
			return usageError("output directory does not exist: " + dir)
		}
	}
	if _, err := os.Stat(output); err == nil && !force {
		fmt.Println(usage)
		return usageError("output file exists, pass --force to overwrite: " + output)
	}

	m, err := readMappings(mappingsPath)
	if err != nil {
		return err
	}

	var loader mappings.ClasspathLoader
	if len(classpath) > 0 {
		cpLoader, closer, err := mappings.LoaderFromJarPaths(classpath)
		if err != nil {
			return err
		}
		defer closer()
		loader = cpLoader
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	return mappings.RemapJars(context.Background(), &mappings.JarRemapConfig{
		Mappings:      m,
		Classpath:     loader,
		CopyResources: !skipResources,
		Logger:        logger,
		Tasks: []mappings.RemapTask{
			{Input: input, Output: output, From: from, To: to},
		},
	})
}

func readMappings(path string) (*mappings.Mappings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer data.Unmap()
	return mappings.Parse(data)
}
