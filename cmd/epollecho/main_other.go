//go:build !linux

package main

import (
	"fmt"
	"os"

	"github.com/joeycumines/go-eventpoll/fdsource"
)

func main() {
	fmt.Fprintln(os.Stderr, fdsource.ErrNotSupported)
	os.Exit(1)
}
