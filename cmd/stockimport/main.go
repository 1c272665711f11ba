// Command stockimport runs inventory CSV imports from the command line.
package main

func main() {
	Execute()
}
