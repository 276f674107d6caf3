package main

import "github.com/chrisdamba/roadtraffic/cmd"

func main() {
	cmd.Execute()
}
