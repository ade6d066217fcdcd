package main

import "os"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(2)
	}
}
