// Built with -buildmode=c-shared by the loader tests. The Go runtime gives
// the resulting object a thread-local storage segment, which the private
// loader must refuse.
package main

import "C"

//export probe_value
func probe_value() C.long {
	return 1337
}

func main() {}
