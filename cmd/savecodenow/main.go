// Package main is the savecodenow service entrypoint.
package main

import "github.com/JakeFAU/savecodenow/cmd"

func main() {
	cmd.Execute()
}
