package main

import "github.com/terraconstructs/fhirapi/cmd"

func main() {
	cmd.Execute()
}
