package main

import "github.com/utkarsh5026/fiberpool/internal/cli"

func main() {
	cli.Execute()
}
