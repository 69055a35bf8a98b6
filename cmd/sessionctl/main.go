// Package main with the sessionctl command line tool for serving and logging in to session servers
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
