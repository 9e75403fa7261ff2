package main

import (
	"fmt"

	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/mux/k8s"
)

// newMultiplexer constructs the multiplexer backend named in config:
// tmux windows by default, Kubernetes pods when configured.
func newMultiplexer(cfg config.Config) (mux.Multiplexer, error) {
	switch cfg.Multiplexer.Backend {
	case "", "tmux":
		return mux.NewTmux(), nil
	case "kubernetes":
		return k8s.New(cfg.Multiplexer.Namespace, cfg.Multiplexer.Image, cfg.Multiplexer.Kubeconfig)
	default:
		return nil, fmt.Errorf("unknown multiplexer backend %q (want tmux or kubernetes)", cfg.Multiplexer.Backend)
	}
}
