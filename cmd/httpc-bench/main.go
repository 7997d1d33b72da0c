// Command httpc-bench repeats one request/response cycle over a single
// keep-alive connection and reports how far it got.
package main

func main() {
	execute()
}
