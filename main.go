package main

import "github.com/lingodoc/lingodoc/cmd"

func main() {
	cmd.Execute()
}
