package main

import (
	"github.com/flowcast/forecaster/cmd/server"
)

func main() {
	server.Execute()
}
