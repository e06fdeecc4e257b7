// Command bypassdemo shows that a bypassed put receives a post-write call only
// when another put in the same batch was not bypassed.
//
//	bypassdemo [-quiet=false] [in-memory | networked <config.json>]
//
// Storage logging is off unless -quiet=false or BYPASSDEMO_QUIET=0 is given.
//
// Exits 0 when every assertion holds and 1 on any configuration,
// initialization, teardown or assertion failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"bypasskv/internal/cluster"
	"bypasskv/internal/demo"
	"bypasskv/internal/faults"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bypassdemo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	quiet := fs.Bool("quiet", quietDefault(os.Getenv("BYPASSDEMO_QUIET")), "suppress storage logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *quiet {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(stderr)
	}

	mode, err := cluster.ParseMode(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Invalid arguments: %v; exiting\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Beginning in mode: %s\n", mode)

	ctx := context.Background()
	if mode.Kind == cluster.InMemory {
		fmt.Fprintln(stdout, "Setting up in-memory cluster")
	} else {
		fmt.Fprintln(stdout, "Establishing connection to cluster")
	}
	c, err := cluster.Open(ctx, mode)
	if err != nil {
		var cf *faults.ConfigFault
		switch {
		case errors.As(err, &cf):
			fmt.Fprintf(stderr, "Configuration problem: %v; exiting\n", err)
		case faults.ClassifyInit(err) == faults.InitFailureThenTeardownFailure:
			fmt.Fprintf(stderr, "Initialization failed and teardown failed too:\n%+v\nExiting\n", err)
		default:
			fmt.Fprintf(stderr, "Fatal failure occurred:\n%+v\nExiting\n", err)
		}
		return 1
	}

	fmt.Fprintln(stdout, "Running test")
	runErr := demo.Run(ctx, c.Region(), c.Counters(), stdout)
	closeErr := c.Close(ctx)

	if runErr != nil {
		fmt.Fprintf(stderr, "Failure occurred:\n%+v\n", runErr)
	}
	if closeErr != nil {
		fmt.Fprintf(stderr, "Teardown failure occurred:\n%+v\n", closeErr)
	}
	if runErr != nil || closeErr != nil {
		fmt.Fprintln(stderr, "Exiting")
		return 1
	}

	fmt.Fprintln(stdout, "Test complete, all assertions held true.")
	return 0
}

func quietDefault(env string) bool {
	if quiet, err := strconv.ParseBool(env); err == nil {
		return quiet
	}
	return true
}
