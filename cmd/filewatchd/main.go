// filewatchd - external file-change detection for desktop applications
//
//	filewatchd run              Watch configured paths and record changes
//	filewatchd sum <file>       Print a file's content fingerprint
//	filewatchd history <file>   Show recorded changes for a file
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"filewatchd/internal/checksum"
	"filewatchd/internal/config"
	"filewatchd/internal/journal"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "sum":
		cmdSum(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`filewatchd - external file-change detection

USAGE:
    filewatchd <command> [options]

COMMANDS:
    run        Watch configured paths and record changes
    sum        Print a file's content fingerprint
    history    Show recorded changes for a file
    help       Show this help

Run 'filewatchd <command> -h' for command options.`)
}

func cmdSum(args []string) {
	fs := flag.NewFlagSet("sum", flag.ExitOnError)
	limitKB := fs.Int("limit", -1, "hash only the leading N KiB")
	algorithm := fs.String("algorithm", "sha256", "fingerprint hash: sha256 or blake2b")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: filewatchd sum [options] <file>")
		os.Exit(1)
	}

	eng, err := checksum.New(checksum.Algorithm(*algorithm))
	if err != nil {
		fatal(err)
	}
	limit := int64(*limitKB) * 1024
	sum, err := eng.Sum(fs.Arg(0), limit)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s  %s\n", hex.EncodeToString(sum), fs.Arg(0))
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	journalPath := fs.String("journal", "", "journal database (overrides config)")
	limit := fs.Int("limit", 20, "maximum entries to show")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: filewatchd history [options] <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	dbPath := cfg.Journal.Path
	if *journalPath != "" {
		dbPath = *journalPath
	}

	j, err := journal.Open(dbPath)
	if err != nil {
		fatal(err)
	}
	defer j.Close()

	abs, err := absPath(fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	changes, err := j.History(abs, *limit)
	if err != nil {
		fatal(err)
	}
	if len(changes) == 0 {
		fmt.Printf("no recorded changes for %s\n", abs)
		return
	}
	for _, c := range changes {
		fmt.Printf("%s  %s  %d bytes\n",
			c.DetectedAt.Format("2006-01-02 15:04:05"),
			hex.EncodeToString(c.Checksum),
			c.Size)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
