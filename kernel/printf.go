package main

// putcFn is the byte sink printf/printk write through. It defaults to the
// real UART driver but tests substitute a capturing func, the same seam
// gopher-os uses for frameAllocator/readCR2Fn
// (other_examples/gopher-os-gopher-os__vmm.go, __pmm.go).
var putcFn = uart_putc

func printInt(num int) {
	// Int in Go ranges from -9,223,372,036,854,775,808
	//                    to  9,223,372,036,854,775,807.
	// We need roughly 20 bytes to store it.
	var buf [20]byte
	i := 0

	neg := num < 0
	if neg {
		num = -num
	}
	if num == 0 {
		putcFn('0')
		return
	}

	for num > 0 {
		buf[i] = byte(num%10) + '0'
		i++
		num = num / 10
	}
	if neg {
		putcFn('-')
	}
	for i = i - 1; i >= 0; i-- {
		putcFn(buf[i])
	}
}

func printHex(num uint64) {
	putcFn('0')
	putcFn('x')
	if num == 0 {
		putcFn('0')
		return
	}
	var buf [16]byte
	i := 0
	for num > 0 {
		d := byte(num % 16)
		if d < 10 {
			buf[i] = d + '0'
		} else {
			buf[i] = d - 10 + 'a'
		}
		i++
		num /= 16
	}
	for i = i - 1; i >= 0; i-- {
		putcFn(buf[i])
	}
}

func printString(str string) {
	for i := 0; i < len(str); i++ {
		putcFn(str[i])
	}
}

// printf is a minimal, allocation-free formatter: %d %x %s %c %%. There is
// no fmt available in a freestanding build, so this stays hand-rolled
// exactly as the teacher's kernel/printf.go does it.
func printf(format string, args ...interface{}) {
	argIdx := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			i++
			switch format[i] {
			case 'd':
				switch v := args[argIdx].(type) {
				case int:
					printInt(v)
				case int64:
					printInt(int(v))
				case uint64:
					printInt(int(v))
				default:
					putcFn('?')
				}
				argIdx++
			case 'x':
				switch v := args[argIdx].(type) {
				case uintptr:
					printHex(uint64(v))
				case uint64:
					printHex(v)
				case int:
					printHex(uint64(v))
				default:
					putcFn('?')
				}
				argIdx++
			case 's':
				printString(args[argIdx].(string))
				argIdx++
			case 'c':
				switch v := args[argIdx].(type) {
				case int:
					putcFn(byte(v))
				case int32:
					putcFn(byte(v))
				case byte:
					putcFn(v)
				default:
					putcFn('?')
				}
				argIdx++
			case '%':
				putcFn('%')
			default:
				putcFn('%')
				putcFn(format[i])
			}
		} else {
			putcFn(format[i])
		}
	}
}
