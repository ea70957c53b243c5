package main

import "github.com/frahmantamala/pos-payments/cmd"

func main() {
	cmd.Execute()
}
