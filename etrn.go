package esmtp

// ETRNNode is one RFC 1985 remote queue start request, issued after the
// capability check and before any mail transaction.
type ETRNNode struct {
	session *Session

	option byte
	node   string

	status Status
	data   any
}

// AddETRNNode queues an ETRN command for the given node. option is 0 to
// start the queue for exactly that host, '@' to include subdomains, or '#'
// to name a server-defined queue. Adding a node makes the ETRN extension
// required.
func (s *Session) AddETRNNode(option byte, node string) (*ETRNNode, error) {
	switch option {
	case 0, '@', '#':
	default:
		return nil, invalidArgf("bad ETRN option %q", string(option))
	}
	if node == "" {
		return nil, invalidArgf("empty ETRN node")
	}
	if err := validateParam(node); err != nil {
		return nil, err
	}
	n := &ETRNNode{session: s, option: option, node: node}
	s.etrnNodes = append(s.etrnNodes, n)
	s.require |= ExtETRN
	return n, nil
}

// ETRNNodes returns the session's ETRN nodes in the order they were
// added.
func (s *Session) ETRNNodes() []*ETRNNode {
	return append([]*ETRNNode(nil), s.etrnNodes...)
}

// Node returns the node argument the ETRN command will carry.
func (n *ETRNNode) Node() string { return n.node }

// Option returns the option character, or 0 when none was requested.
func (n *ETRNNode) Option() byte { return n.option }

// Status is the server's response to this node's ETRN command.
func (n *ETRNNode) Status() Status { return n.status }

// ResetStatus clears the node status back to pending.
func (n *ETRNNode) ResetStatus() { n.status = Status{} }

// SetData attaches arbitrary application data to the node.
func (n *ETRNNode) SetData(v any) { n.data = v }

// Data returns the application data attached with SetData.
func (n *ETRNNode) Data() any { return n.data }

// command renders the ETRN command line for this node.
func (n *ETRNNode) command() string {
	if n.option == 0 {
		return "ETRN " + n.node
	}
	return "ETRN " + string(n.option) + n.node
}
