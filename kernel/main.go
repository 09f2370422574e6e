package main

import _ "unsafe"

// KMain is the freestanding entry point the boot assembly jumps to after
// setting up the initial stack, exactly as the teacher's kernel/main.go
// does (`//export KMain`). It delegates straight to bootKernel/run so this
// file stays a thin entry shim rather than growing the boot sequence
// inline the way the teacher's demo version does.
//
//export KMain
func KMain() {
	k := bootKernel()
	k.run()
}

func main() {}
