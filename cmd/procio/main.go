package main

import (
	"github.com/lattice-run/procio/internal/cli"
	"github.com/lattice-run/procio/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
