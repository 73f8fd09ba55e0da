// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// rdtpbench benchmarks a reliable datagram protocol against TCP and UDP
package main

import "rdtpbench/cmd"

func main() {
	cmd.Execute()
}
