package main

import (
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `stackup - declarative container stack runner

Usage:
  stackup <command> [flags]

Commands:
  up        Create and start a stack from a descriptor
  down      Stop a running stack
  rm        Remove a stack and its resources
  ps        List known stacks
  logs      Show logs for one service of a stack
  validate  Validate a descriptor file
  render    Print the resolved container plans for a descriptor
  serve     Run the status API server
  version   Print version information

Run 'stackup <command> -h' for command-specific flags.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return ExitUsageError
	}

	switch args[0] {
	case "up":
		return cmdUp(args[1:])
	case "down":
		return cmdDown(args[1:])
	case "rm":
		return cmdRm(args[1:])
	case "ps":
		return cmdPs(args[1:])
	case "logs":
		return cmdLogs(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "render":
		return cmdRender(args[1:])
	case "serve":
		return cmdServe(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("stackup %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "-h", "--help", "help":
		fmt.Print(usage)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", args[0], usage)
		return ExitUsageError
	}
}
