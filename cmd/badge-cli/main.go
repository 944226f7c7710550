package main

import "habblive-backend/cmd/badge-cli/cmd"

func main() {
	cmd.Execute()
}
