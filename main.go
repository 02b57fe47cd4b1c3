// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/onedr0p/gluctl/cmd/gluctl"

func main() {
	cmd.Execute()
}
