// Package main is the menu-weaver command line crawler.
//
// Usage:
//
//	crawler [seed-url] [flags]
//	crawler runs list
//	crawler runs show <id>
package main

func main() {
	Execute()
}
