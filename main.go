package main

import "fulfillment-service/cli"

func main() {
	cli.Execute()
}
