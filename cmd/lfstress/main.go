// Command lfstress drives an lfalloc allocator from many goroutines and
// checks the block structure afterwards.
package main

func main() {
	execute()
}
