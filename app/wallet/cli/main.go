package main

import "github.com/DarkZeros/sqlchain/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
