// Command bkt reads Git objects, packs and HTTP responses through buckets.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/bobg/subcmd"
)

type maincmd struct {
	config  string
	gitDir  string
	verbose bool
}

func main() {
	var c maincmd
	flag.StringVar(&c.config, "config", "bktconf.yaml", "path to store config file")
	flag.StringVar(&c.gitDir, "git-dir", ".git", "repository to use when there is no config file")
	flag.BoolVar(&c.verbose, "v", false, "log store operations to stderr")
	flag.Parse()

	if c.verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	err := subcmd.Run(context.Background(), c, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"cat-file", c.catFile, subcmd.Params(
			"t", subcmd.Bool, false, "show the object's type",
			"s", subcmd.Bool, false, "show the object's size",
			"p", subcmd.Bool, true, "show the object's contents (default)",
		),
		"hash-object", c.hashObject, subcmd.Params(
			"w", subcmd.Bool, false, "write the object to the store",
			"t", subcmd.String, "blob", "object type",
			"object-format", subcmd.String, "", "id type, sha1 or sha256 (default: the store's)",
		),
		"http-get", c.httpGet, subcmd.Params(
			"dechunk-only", subcmd.Bool, false, "undo chunked transfer encoding but not content encoding",
			"i", subcmd.Bool, false, "print the status line and headers to stderr",
		),
		"list", c.list, subcmd.Params(
			"start", subcmd.String, "", "start after this id",
			"l", subcmd.Bool, false, "show each object's type and size",
			"batch", subcmd.Int, 256, "with -l, objects to look up at once",
		),
		"prune-packed", c.prunePacked, nil,
		"show-index", c.showIndex, subcmd.Params(
			"object-format", subcmd.String, "sha1", "id type, sha1 or sha256",
		),
		"sync", c.sync, nil,
		"verify-pack", c.verifyPack, subcmd.Params(
			"j", subcmd.Int, runtime.NumCPU(), "objects to check at once",
			"v", subcmd.Bool, false, "list the objects",
			"object-format", subcmd.String, "sha1", "id type, sha1 or sha256",
		),
	)
}
