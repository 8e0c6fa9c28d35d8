// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// weft inspects versioned-text stores: list keys, print or annotate texts,
// verify integrity and show storage statistics.
package main

import (
	"fmt"
	"os"

	"github.com/attic-labs/kingpin"
	humanize "github.com/dustin/go-humanize"
	isatty "github.com/mattn/go-isatty"
	"github.com/pkg/profile"

	"github.com/breezy-team/weft/config"
	"github.com/breezy-team/weft/groupcompress"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/knit"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/util/verbose"
	"github.com/breezy-team/weft/versionedfile"
)

func main() {
	app := kingpin.New("weft", "Weft is a tool for inspecting versioned-text stores.")
	app.HelpFlag.Short('h')

	verboseFlag := app.Flag("verbose", "show more").Short('v').Bool()
	cpuProfile := app.Flag("cpuprofile", "write a cpu profile for this run").Bool()
	format := app.Flag("format", "store format").Default("knit").Enum("knit", "pack-knit", "groupcompress")
	name := app.Flag("name", "flat knit store name").Default("texts").String()
	annotated := app.Flag("annotated", "open knit stores with annotated storage").Bool()
	configPath := app.Flag("config", "TOML store options file").String()

	keysCmd := app.Command("keys", "List every key in the store.")
	keysDir := keysCmd.Arg("dir", "store directory").Required().String()

	catCmd := app.Command("cat", "Print the stored text of a key.")
	catDir := catCmd.Arg("dir", "store directory").Required().String()
	catKey := catCmd.Arg("key", "key, tuple parts separated by /").Required().String()

	annotateCmd := app.Command("annotate", "Print a text with per-line origins.")
	annotateDir := annotateCmd.Arg("dir", "store directory").Required().String()
	annotateKey := annotateCmd.Arg("key", "key, tuple parts separated by /").Required().String()

	checkCmd := app.Command("check", "Reconstruct and verify every record.")
	checkDir := checkCmd.Arg("dir", "store directory").Required().String()

	statsCmd := app.Command("stats", "Show store size statistics.")
	statsDir := statsCmd.Arg("dir", "store directory").Required().String()

	input := kingpin.MustParse(app.Parse(os.Args[1:]))

	verbose.SetVerbose(*verboseFlag)
	if *cpuProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	opts := config.Defaults()
	if *configPath != "" {
		var err error
		opts, err = config.Load(*configPath)
		dieOnError(err)
	}

	open := func(dir string) versionedfile.VersionedFiles {
		s, err := openStore(dir, *format, *name, *annotated, opts)
		dieOnError(err)
		return s
	}

	switch input {
	case keysCmd.FullCommand():
		runKeys(open(*keysDir))
	case catCmd.FullCommand():
		runCat(open(*catDir), parseKey(*catKey))
	case annotateCmd.FullCommand():
		runAnnotate(open(*annotateDir), parseKey(*annotateKey))
	case checkCmd.FullCommand():
		runCheck(open(*checkDir))
	case statsCmd.FullCommand():
		runStats(open(*statsDir))
	}
}

func openStore(dir, format, name string, annotated bool, opts config.StoreOptions) (versionedfile.VersionedFiles, error) {
	t := transport.NewReadOnlyFileTransport(dir)
	reg := versionedfile.NewAdapterRegistry()
	knit.RegisterAdapters(reg)
	groupcompress.RegisterAdapters(reg)
	switch format {
	case "knit":
		return knit.NewStore(t, name, annotated, reg, opts), nil
	case "pack-knit":
		return knit.NewPackStore(t, 1, annotated, reg, opts), nil
	case "groupcompress":
		return groupcompress.NewStore(t, 1, reg, opts), nil
	}
	return nil, fmt.Errorf("unknown store format %q", format)
}

// Keys are given on the command line with "/" between tuple parts, since
// the stored separator is not typeable.
func parseKey(s string) key.Key {
	return key.New(splitSlash(s)...)
}

func splitSlash(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func runKeys(s versionedfile.VersionedFiles) {
	ks, err := s.Keys()
	dieOnError(err)
	for _, k := range ks.Sorted() {
		fmt.Println(k.String())
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintf(os.Stderr, "%d keys\n", ks.Len())
	}
}

func runCat(s versionedfile.VersionedFiles, k key.Key) {
	lines, err := s.GetLines(k)
	dieOnError(err)
	for _, line := range lines {
		fmt.Print(line)
	}
}

func runAnnotate(s versionedfile.VersionedFiles, k key.Key) {
	anns, err := s.Annotate(k)
	dieOnError(err)
	width := 0
	for _, a := range anns {
		if n := len(a.Origin.String()); n > width {
			width = n
		}
	}
	for _, a := range anns {
		fmt.Printf("%-*s | %s", width, a.Origin.String(), a.Text)
	}
}

func runCheck(s versionedfile.VersionedFiles) {
	res, err := s.Check()
	dieOnError(err)
	fmt.Printf("%d records verified, %s on disk\n", res.Records, humanize.Bytes(uint64(res.TotalSize)))
	if len(res.Problems) > 0 {
		for _, p := range res.Problems {
			fmt.Fprintln(os.Stderr, p)
		}
		os.Exit(1)
	}
}

func runStats(s versionedfile.VersionedFiles) {
	res, err := s.Check()
	dieOnError(err)
	ks, err := s.Keys()
	dieOnError(err)
	fmt.Printf("keys:      %d\n", ks.Len())
	fmt.Printf("records:   %d\n", res.Records)
	fmt.Printf("stored:    %s\n", humanize.Bytes(uint64(res.TotalSize)))
	if res.Records > 0 {
		fmt.Printf("avg/record: %s\n", humanize.Bytes(uint64(res.TotalSize)/uint64(res.Records)))
	}
	missing, err := s.GetMissingCompressionParentKeys()
	dieOnError(err)
	if missing.Len() > 0 {
		fmt.Printf("missing compression parents: %d\n", missing.Len())
	}
}

func dieOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
