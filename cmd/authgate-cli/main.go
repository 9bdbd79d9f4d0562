// Copyright 2025 Gosayram Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("authgate-cli"),
		kong.Description("authgate static token administration"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	// Bind CLI to all commands
	bindCLI(&cli, os.Stdout)

	if err := ctx.Run(); err != nil {
		ctx.Errorf("%v", err)
		os.Exit(1)
	}
}

// bindCLI binds the CLI instance to all commands
func bindCLI(cli *CLI, out io.Writer) {
	cli.out = out
	cli.Version.CLI = cli
	cli.Token.Add.CLI = cli
	cli.Token.Remove.CLI = cli
	cli.Token.List.CLI = cli
	cli.Migrate.Status.CLI = cli
	cli.Migrate.Down.CLI = cli
}
