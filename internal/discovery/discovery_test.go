package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/holmesproxy/alert-core/internal/discovery"
)

func TestDiscoverMapsLabeledServices(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "alertmanager",
				Namespace: "monitoring",
				Labels:    map[string]string{"alert-core/source": "true"},
			},
			Spec: corev1.ServiceSpec{
				Ports: []corev1.ServicePort{{Name: "http", Port: 9093}},
			},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "unrelated",
				Namespace: "default",
			},
			Spec: corev1.ServiceSpec{
				Ports: []corev1.ServicePort{{Name: "http", Port: 8080}},
			},
		},
	)

	d := discovery.NewFromClientset(clientset, discovery.Config{LabelSelector: "alert-core/source=true"})
	sources, err := d.Discover(t.Context())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "monitoring/alertmanager", sources[0].ID)
	assert.Contains(t, sources[0].URL, "alertmanager.monitoring.svc.cluster.local:9093")
}

func TestDiscoverSkipsServicesWithNoUsablePort(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "multi-port",
				Namespace: "monitoring",
				Labels:    map[string]string{"alert-core/source": "true"},
			},
			Spec: corev1.ServiceSpec{
				Ports: []corev1.ServicePort{{Name: "metrics", Port: 9100}, {Name: "grpc", Port: 9090}},
			},
		},
	)

	d := discovery.NewFromClientset(clientset, discovery.Config{LabelSelector: "alert-core/source=true"})
	sources, err := d.Discover(t.Context())
	require.NoError(t, err)
	assert.Empty(t, sources)
}
