package main

import (
	"io"
	"os"
)

type command interface {
	Run(args []string) int
}

type commandDeps struct {
	Stdout            io.Writer
	Stderr            io.Writer
	RunServer         func(args []string) int
	RunValidateConfig func(args []string, out io.Writer, errOut io.Writer) int
	RunVersion        func(out io.Writer) int
}

func defaultCommandDeps() commandDeps {
	return commandDeps{
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
		RunServer:         runServer,
		RunValidateConfig: runValidateConfig,
		RunVersion:        runVersion,
	}
}

type serverCommand struct {
	deps commandDeps
}

func (c serverCommand) Run(args []string) int {
	return c.deps.RunServer(args)
}

type validateConfigCommand struct {
	deps commandDeps
}

func (c validateConfigCommand) Run(args []string) int {
	return c.deps.RunValidateConfig(args, c.deps.Stdout, c.deps.Stderr)
}

type versionCommand struct {
	deps commandDeps
}

func (c versionCommand) Run(args []string) int {
	return c.deps.RunVersion(c.deps.Stdout)
}

func resolveCommand(args []string, deps commandDeps) (command, []string) {
	if len(args) > 1 && args[0] == "config" && args[1] == "validate" {
		return validateConfigCommand{deps: deps}, args[2:]
	}
	if len(args) > 0 && args[0] == "version" {
		return versionCommand{deps: deps}, args[1:]
	}
	if hasFlag(args, "--version") || hasFlag(args, "-v") {
		return versionCommand{deps: deps}, args
	}
	return serverCommand{deps: deps}, args
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}
