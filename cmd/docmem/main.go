// Command docmem runs the document memory service and its maintenance
// tasks.
package main

func main() {
	Execute()
}
