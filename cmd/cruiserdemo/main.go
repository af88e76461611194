// Command cruiserdemo runs the end-to-end scenarios of spec.md §8
// against the cruiser package, one at a time, printing a pass/fail
// line for each.
//
// Usage:
//
//	cruiserdemo [-scenario name]
//
// With no -scenario flag, every scenario runs in turn.
package main

import (
	"flag"
	"fmt"
	"os"
)

type scenario struct {
	name string
	run  func() error
}

var scenarios = []scenario{
	{"clean-lifecycle", runCleanLifecycle},
	{"right-overflow", runRightOverflow},
	{"left-overflow", runLeftOverflow},
	{"duplicate-free", runDuplicateFree},
	{"grow-realloc", runGrowRealloc},
	{"churn", runChurn},
}

func main() {
	name := flag.String("scenario", "", "run a single named scenario instead of all of them")
	flag.Parse()

	var toRun []scenario
	if *name == "" {
		toRun = scenarios
	} else {
		for _, s := range scenarios {
			if s.name == *name {
				toRun = []scenario{s}
			}
		}
		if toRun == nil {
			fmt.Fprintf(os.Stderr, "cruiserdemo: unknown scenario %q\n", *name)
			os.Exit(2)
		}
	}

	failed := false
	for _, s := range toRun {
		fmt.Printf("=== %s ===\n", s.name)
		if err := s.run(); err != nil {
			fmt.Printf("FAIL: %v\n", err)
			failed = true
		} else {
			fmt.Println("PASS")
		}
	}
	if failed {
		os.Exit(1)
	}
}
