package node

// StartNode is the playback node: it carries the configured play speed the
// Playback Driver reads at play() time and has no runtime behavior of its
// own beyond participating in the generic lifecycle.
type StartNode struct {
	*Runtime
	PlaySpeed int // bars per second
}

// NewStartNode creates a Start node configured with playSpeed bars/second.
func NewStartNode(rt *Runtime, playSpeed int) *StartNode {
	if playSpeed <= 0 {
		playSpeed = 1
	}
	return &StartNode{Runtime: rt, PlaySpeed: playSpeed}
}

// Init completes initialization immediately; a Start node has no external
// dependency to load.
func (n *StartNode) Init() error {
	return n.Initialize(func(acts []Action) error {
		n.SignalReady()
		return nil
	})
}

// Shutdown tears down cleanly; there is nothing to cancel beyond the base
// runtime's listener goroutines (there are none for this kind).
func (n *StartNode) Shutdown() error {
	defer n.SignalStopped()
	return n.Stop()
}
