// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command fieldscope dumps, guesses, and validates binary files against
// the registered field-tree parsers.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/saferwall/fieldscope"
	"github.com/saferwall/fieldscope/formats/ar"
	"github.com/saferwall/fieldscope/formats/au"
	"github.com/saferwall/fieldscope/formats/jpeg"
	"github.com/saferwall/fieldscope/formats/pe"
)

var (
	verbose  bool
	mimeHint string
	autoFix  bool
	maxDepth int
)

func newRegistry() *fieldscope.ParserRegistry {
	r := fieldscope.NewParserRegistry()
	r.Register(au.NewParser())
	r.Register(ar.NewParser())
	r.Register(jpeg.NewParser())
	r.Register(pe.NewParser())
	return r
}

func prettyPrint(buff []byte) string {
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, buff, "", "\t"); err != nil {
		log.Println("JSON indent error: ", err)
		return string(buff)
	}
	return prettyJSON.String()
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// fieldSummary is the JSON-friendly view of one field a dump emits: its
// name, absolute bit address/size, decoded value, and (for a FieldSet) its
// children, walked to at most maxDepth levels deep.
type fieldSummary struct {
	Name     string         `json:"name"`
	Address  uint64         `json:"address_bits"`
	Size     uint64         `json:"size_bits,omitempty"`
	Display  string         `json:"display,omitempty"`
	Error    string         `json:"error,omitempty"`
	Children []fieldSummary `json:"children,omitempty"`
}

func summarize(f fieldscope.Field, depth int) fieldSummary {
	size, _ := f.Size()
	s := fieldSummary{Name: f.Name(), Address: f.AbsoluteAddress(), Size: size}
	if display, err := f.RawDisplay(); err != nil {
		s.Error = err.Error()
	} else {
		s.Display = display
	}
	if fs, ok := f.(*fieldscope.FieldSet); ok && depth > 0 {
		n, err := fs.Len()
		if err != nil {
			s.Error = err.Error()
			return s
		}
		for i := 0; i < n; i++ {
			child, err := fs.FieldByIndex(i)
			if err != nil {
				s.Children = append(s.Children, fieldSummary{Error: err.Error()})
				continue
			}
			s.Children = append(s.Children, summarize(child, depth-1))
		}
	}
	return s
}

func openStream(path string) (*fieldscope.InputStream, error) {
	return fieldscope.NewInputStreamFile(path, fieldscope.BigEndian)
}

func dumpFile(path string, registry *fieldscope.ParserRegistry) {
	stream, err := openStream(path)
	if err != nil {
		log.Printf("%s: %v", path, err)
		return
	}
	defer stream.Close()

	parser, err := registry.GuessParser(filepath.Base(path), mimeHint, stream)
	if err != nil {
		log.Printf("%s: %v", path, err)
		return
	}
	parser.Options = &fieldscope.Options{AutoFix: autoFix}
	root, err := parser.Parse(stream)
	if err != nil {
		log.Printf("%s: %v", path, err)
		return
	}
	defer root.Close()
	out, err := json.Marshal(summarize(root, maxDepth))
	if err != nil {
		log.Printf("%s: marshal error: %v", path, err)
		return
	}
	fmt.Println(prettyPrint(out))
}

func guessFile(path string, registry *fieldscope.ParserRegistry) {
	stream, err := openStream(path)
	if err != nil {
		log.Printf("%s: %v", path, err)
		return
	}
	defer stream.Close()

	parser, err := registry.GuessParser(filepath.Base(path), mimeHint, stream)
	if err != nil {
		fmt.Printf("%s: no match (%v)\n", path, err)
		return
	}
	fmt.Printf("%s: %s (%s)\n", path, parser.Tags.ID, parser.Tags.Description)
}

// walkAll recursively feeds fs and every descendant FieldSet to
// completion, so a structural error anywhere in the tree surfaces
// instead of only the fields validateFile happens to have touched.
func walkAll(fs *fieldscope.FieldSet) error {
	n, err := fs.Len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		field, err := fs.FieldByIndex(i)
		if err != nil {
			return err
		}
		if child, ok := field.(*fieldscope.FieldSet); ok {
			if err := walkAll(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFile(path, formatID string, registry *fieldscope.ParserRegistry) {
	stream, err := openStream(path)
	if err != nil {
		log.Printf("%s: %v", path, err)
		return
	}
	defer stream.Close()

	for _, p := range registry.Parsers() {
		if p.Tags.ID != formatID {
			continue
		}
		root, err := p.Parse(stream)
		if err != nil {
			fmt.Printf("%s: invalid %s: %v\n", path, formatID, err)
			return
		}
		defer root.Close()
		if err := walkAll(root); err != nil {
			fmt.Printf("%s: invalid %s: %v\n", path, formatID, err)
			return
		}
		fmt.Printf("%s: valid %s\n", path, formatID)
		return
	}
	fmt.Printf("unknown format %q\n", formatID)
}

func eachFile(filePath string, fn func(string)) {
	if !isDirectory(filePath) {
		fn(filePath)
		return
	}
	var files []string
	filepath.Walk(filePath, func(path string, f os.FileInfo, err error) error {
		if err == nil && !f.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	for _, f := range files {
		fn(f)
	}
}

func main() {
	registry := newRegistry()

	var rootCmd = &cobra.Command{
		Use:   "fieldscope",
		Short: "A lazy, bit-addressable binary field-tree inspector",
		Long:  "fieldscope walks self-describing binary formats field by field without decoding more than a caller asks for",
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump <path>",
		Short: "Parse a file (or a directory, recursively) and print its field tree as JSON",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eachFile(args[0], func(path string) { dumpFile(path, registry) })
		},
	}

	var guessCmd = &cobra.Command{
		Use:   "guess <path>",
		Short: "Report which registered format a file matches, without fully parsing it",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eachFile(args[0], func(path string) { guessFile(path, registry) })
		},
	}

	var validateCmd = &cobra.Command{
		Use:   "validate <format> <path>",
		Short: "Check that a file parses cleanly as the given format id",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			formatID := args[0]
			eachFile(args[1], func(path string) { validateFile(path, formatID, registry) })
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&mimeHint, "mime", "", "MIME type hint for format guessing")
	dumpCmd.Flags().BoolVar(&autoFix, "autofix", false, "tolerate truncated/overflowing fields instead of failing")
	dumpCmd.Flags().IntVar(&maxDepth, "depth", 8, "maximum field-tree depth to print")

	rootCmd.AddCommand(dumpCmd, guessCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
