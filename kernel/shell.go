package main

// registerShellPrograms wires the shell and its example user programs into
// the filesystem's program table, the same "statically linked entry point"
// mechanism fs_lookup uses for anything found on disk (spec.md §4.I/§4.J).
func registerShellPrograms(fs *FileSystem) {
	fs.fsRegisterBuiltin("shell", shellMain)
	fs.fsRegisterBuiltin("echo", echoMain)
	fs.fsRegisterBuiltin("pstest", pstestMain)
	fs.fsRegisterBuiltin("forktest", forktestMain)
	fs.fsRegisterBuiltin("looper", looperMain)
}

const lineBufSize = 128

// shellMain is the pid-1 entry point KMain creates (spec.md §4.J). It reads
// a line from the UART, tokenizes on whitespace, and either runs a
// built-in or forks+execs the first token as a program name.
func shellMain() {
	var line [lineBufSize]byte
	for {
		writeString("$ ")
		n := read(line[:])
		if n <= 0 {
			continue
		}
		argv := tokenize(line[:n])
		if len(argv) == 0 {
			continue
		}
		runCommand(argv)
	}
}

func runCommand(argv []string) {
	switch argv[0] {
	case "exit":
		sysExit()
		return
	case "ps":
		ps()
		return
	case "wait":
		wait()
		return
	case "kill":
		if len(argv) < 2 {
			writeString("usage: kill <pid>\n")
			return
		}
		kill(parseInt(argv[1]))
		return
	}

	background := argv[len(argv)-1] == "&"
	if background {
		argv = argv[:len(argv)-1]
	}

	pid := fork()
	if pid < 0 {
		writeString("fork failed\n")
		return
	}
	if pid == 0 {
		if exec(argv[0]) < 0 {
			writeString("exec: not found: ")
			writeString(argv[0])
			writeString("\n")
		}
		sysExit()
		return
	}
	if !background {
		wait()
	}
}

func tokenize(line []byte) []string {
	var argv []string
	start := -1
	for i := 0; i <= len(line); i++ {
		isSpace := i == len(line) || line[i] == ' ' || line[i] == '\t' || line[i] == '\n' || line[i] == '\r'
		if !isSpace && start < 0 {
			start = i
		} else if isSpace && start >= 0 {
			argv = append(argv, string(line[start:i]))
			start = -1
		}
	}
	return argv
}

func parseInt(s string) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		return -n
	}
	return n
}

// echoMain writes its own name followed by a newline: in this kernel's
// no-ELF exec model a program has no argv passed through exec, so there
// are no arguments to echo. Enough to exercise write() end to end
// (spec.md §4.J).
func echoMain() {
	writeString("echo\n")
}

// pstestMain exercises syscall 9.
func pstestMain() {
	ps()
	sysExit()
}

// forktestMain forks a handful of children, each of which writes its pid
// and exits, then waits for all of them -- exercising fork/wait/exit
// together (spec.md §4.J, scenario-adjacent to S2/S5).
func forktestMain() {
	const n = 3
	for i := 0; i < n; i++ {
		pid := fork()
		if pid == 0 {
			writeString("child pid=")
			var buf [20]byte
			k := len(buf)
			p := int(getpid())
			if p == 0 {
				k--
				buf[k] = '0'
			} else {
				for p > 0 {
					k--
					buf[k] = byte(p%10) + '0'
					p /= 10
				}
			}
			write(buf[k:])
			writeString("\n")
			sysExit()
		}
	}
	for i := 0; i < n; i++ {
		wait()
	}
	sysExit()
}

// looperMain is a CPU-bound counter loop used to exercise preemption under
// the timer quantum (spec.md §4.J, scenario S6).
func looperMain() {
	var counter uint64
	for {
		counter++
		if counter%100000000 == 0 {
			writeString("looper tick\n")
		}
	}
}
