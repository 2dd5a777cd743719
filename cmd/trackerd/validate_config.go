package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/AlveZs/ifc-code-delivery/internal/config"
)

func runValidateConfig(args []string, out io.Writer, errOut io.Writer) int {
	flags := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flags.SetOutput(errOut)
	configPath := flags.String("config", "", "Path to the YAML config file")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *configPath == "" && flags.NArg() > 0 {
		*configPath = flags.Arg(0)
	}
	if *configPath == "" {
		fmt.Fprintln(errOut, "config validate: a config file is required")
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "%s: ok\n", *configPath)
	return 0
}

func runVersion(out io.Writer) int {
	fmt.Fprintf(out, "trackerd %s\n", versionString())
	return 0
}
