// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command confd serves the configuration-synthesis pipeline: repository
// loading, metadata resolution, probing, structure assembly, generator
// binding, and the XML-RPC Request Façade clients speak to.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("confd: %v", err)
	}
}
