package main

import "github.com/frahmantamala/fitcoach-payments/cmd"

func main() {
	cmd.Execute()
}
