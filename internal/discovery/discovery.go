// Package discovery implements core.SourceDiscovery by listing
// Kubernetes Services annotated as Upstream endpoints, in addition to
// any statically configured Source list (§4.3).
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/holmesproxy/alert-core/internal/core"
)

// Config holds configuration for the Kubernetes-backed discoverer.
type Config struct {
	LabelSelector string        // e.g. "alert-core/source=true"
	Namespace     string        // "" searches all namespaces
	Timeout       time.Duration
	Logger        *slog.Logger
}

// DefaultConfig returns sensible Config defaults.
func DefaultConfig() Config {
	return Config{
		LabelSelector: "alert-core/source=true",
		Timeout:       10 * time.Second,
		Logger:        slog.Default(),
	}
}

// Discoverer implements core.SourceDiscovery against the Kubernetes API.
type Discoverer struct {
	clientset kubernetes.Interface
	cfg       Config
}

// New creates a Discoverer using in-cluster configuration.
func New(cfg Config) (*Discoverer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster config: %w", err)
	}
	k8sConfig.Timeout = cfg.Timeout

	clientset, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	return &Discoverer{clientset: clientset, cfg: cfg}, nil
}

// NewFromClientset builds a Discoverer around an existing clientset,
// used by tests with k8s.io/client-go/kubernetes/fake.
func NewFromClientset(clientset kubernetes.Interface, cfg Config) *Discoverer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discoverer{clientset: clientset, cfg: cfg}
}

// Discover lists Services matching the configured label selector and
// maps each to a Source. A Service's port named "http" or "web" (or its
// sole port, if only one exists) selects the scheme/port used to build
// the Source URL; Services with no usable port are skipped with a WARN.
func (d *Discoverer) Discover(ctx context.Context) ([]core.Source, error) {
	listCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	list, err := d.clientset.CoreV1().Services(d.cfg.Namespace).List(listCtx, metav1.ListOptions{
		LabelSelector: d.cfg.LabelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	sources := make([]core.Source, 0, len(list.Items))
	for _, svc := range list.Items {
		source, ok := sourceFromService(svc)
		if !ok {
			d.cfg.Logger.Warn("skipping service with no usable port", "service", svc.Name, "namespace", svc.Namespace)
			continue
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func sourceFromService(svc corev1.Service) (core.Source, bool) {
	port, ok := pickPort(svc.Spec.Ports)
	if !ok {
		return core.Source{}, false
	}

	id := fmt.Sprintf("%s/%s", svc.Namespace, svc.Name)
	url := fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/api/v2/alerts", svc.Name, svc.Namespace, port)

	return core.Source{ID: id, URL: url, Transport: core.TransportDirect}, true
}

func pickPort(ports []corev1.ServicePort) (int32, bool) {
	if len(ports) == 1 {
		return ports[0].Port, true
	}
	for _, p := range ports {
		if p.Name == "http" || p.Name == "web" {
			return p.Port, true
		}
	}
	return 0, false
}
