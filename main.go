// The main package for the listsync executable.
package main

import "github.com/mapfold/listsync/cmd"

func main() {
	cmd.Execute()
}
