// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"
)

func runReload(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("unix", controlSocketPath(cfg))
	if err != nil {
		return fmt.Errorf("connect to confd serve: %w", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprint(conn, "reload\n"); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	reply = strings.TrimSuffix(reply, "\n")
	if strings.HasPrefix(reply, "error:") {
		return fmt.Errorf("%s", reply)
	}
	fmt.Println(reply)
	return nil
}
