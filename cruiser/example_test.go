package cruiser_test

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/heapwatch/cruiser/cruiser"
)

// Example demonstrates the basic encapsulate/write/free lifecycle.
func Example() {
	cruiser.Init(cruiser.WithMode(cruiser.Lazy))
	defer cruiser.Stop(time.Second)

	p := cruiser.Alloc(64)
	buf := unsafe.Slice((*byte)(p), 64)
	for i := range buf {
		buf[i] = 0xAA
	}
	cruiser.Free(p)

	fmt.Println("ok")
	// Output:
	// ok
}
