// Package main provides the Creatye worker: inbound dispatch and the job scheduler tick.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "creatye-worker",
		EnableShellCompletion: true,
		Usage:                 "Dispatch inbound events and advance automation executions",
		Commands: []*cli.Command{
			RunCommand(),
			TickCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
