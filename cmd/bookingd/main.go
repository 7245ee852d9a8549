package main

import "github.com/example/advisory-booking/cmd"

func main() {
	cmd.Execute()
}
