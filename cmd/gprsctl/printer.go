package main

import (
	"github.com/fatih/color"
)

// printWarn prints a warning to the screen.
func printWarn(message string) {
	message = "[-] " + message

	color.New(color.FgYellow, color.Bold).Println(message)
}

// printError prints an error to the screen.
func printError(err error) {
	message := "[!] " + err.Error()

	color.New(color.FgRed, color.Bold).Println(message)
}

// printResult prints a labelled result, e.g. an address or a state.
func printResult(label, value string) {
	color.New(color.Bold).Print(label + ": ")
	color.New(color.FgGreen).Println(value)
}
