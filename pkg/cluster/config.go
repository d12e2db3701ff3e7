// Package cluster provides a single typed abstraction over the remote
// cluster API: the Cluster Gateway (spec.md §4.1).
package cluster

import (
	"fmt"
	"os"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// wellKnownK3sConfigPath is the default kubeconfig location on a
// lightweight-distribution (k3s) node, probed second after any explicit
// path, before falling back to an in-cluster service account.
const wellKnownK3sConfigPath = "/etc/rancher/k3s/k3s.yaml"

// LoadConfig resolves a *rest.Config by probing, in order: an explicit
// path (if non-empty), the well-known k3s path, in-cluster credentials,
// and the file named by $KUBECONFIG. The first source that loads
// successfully wins. Exhausting all four returns an error.
func LoadConfig(explicitPath string) (*rest.Config, error) {
	if explicitPath != "" {
		if cfg, err := clientcmd.BuildConfigFromFlags("", explicitPath); err == nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(wellKnownK3sConfigPath); err == nil {
		if cfg, err := clientcmd.BuildConfigFromFlags("", wellKnownK3sConfigPath); err == nil {
			return cfg, nil
		}
	}

	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	if home := os.Getenv("KUBECONFIG"); home != "" {
		if cfg, err := clientcmd.BuildConfigFromFlags("", home); err == nil {
			return cfg, nil
		}
	}

	return nil, fmt.Errorf("could not load Kubernetes config: tried explicit path, %s, in-cluster config, and $KUBECONFIG", wellKnownK3sConfigPath)
}
