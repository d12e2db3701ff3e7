package cluster

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// PortForwardOptions configures a single PortForward call. Ports follow
// client-go's "localPort:podPort" convention.
type PortForwardOptions struct {
	Namespace string
	PodName   string
	Ports     []string
	ReadyChan chan struct{}
	StopChan  <-chan struct{}
	Out       io.Writer
	ErrOut    io.Writer
}

// PortForward opens a local tunnel to a sandbox's pod, used by the CLI's
// port-forward command as a debugging aid (spec.md's expanded CLI
// surface). Grounded on the teacher's PortForward: SPDY round tripper +
// dialer wrapping the same *rest.Config the rest of the gateway uses.
func (g *clientGateway) PortForward(opts PortForwardOptions) error {
	if err := g.ensureClients(); err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/portforward", opts.Namespace, opts.PodName)
	u, err := url.Parse(g.restConfig.Host + path)
	if err != nil {
		return err
	}

	transport, upgrader, err := spdy.RoundTripperFor(g.restConfig)
	if err != nil {
		return err
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, u)

	fw, err := portforward.New(dialer, opts.Ports, opts.StopChan, opts.ReadyChan, opts.Out, opts.ErrOut)
	if err != nil {
		return err
	}
	return fw.ForwardPorts()
}

// PortForwarder is implemented by gateways that support PortForward; the
// CLI type-asserts Gateway to this rather than growing the core interface,
// since only the cmd/k7 debugging path needs it.
type PortForwarder interface {
	PortForward(opts PortForwardOptions) error
}
