// Command folio manages typed research resources and their contents on
// structured texts, from the shell or over HTTP.
package main

import "github.com/mesh-intelligence/folio/internal/cli"

func main() {
	cli.Execute()
}
