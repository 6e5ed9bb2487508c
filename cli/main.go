package main

import "github.com/ProofOfReach/strata/cli/cmd"

func main() {
	cmd.Execute()
}
