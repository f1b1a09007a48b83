package main

import (
	"fmt"
	"os"
)

var AppVersion string

const usage = `fleet-enroll provisions an Elastic Agent against a Fleet control plane.

Usage:
  fleet-enroll provision [--policy NAME] [--insecure] [--dry-run] [--config FILE]
  fleet-enroll serve [--port N] [--config FILE]
  fleet-enroll version
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	switch args[0] {
	case "provision":
		return runProvision(args[1:])
	case "serve":
		return runServe(args[1:])
	case "version":
		fmt.Println(versionString())
		return 0
	case "-h", "--help", "help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func versionString() string {
	if AppVersion == "" {
		return "fleet-enroll dev"
	}
	return "fleet-enroll " + AppVersion
}
