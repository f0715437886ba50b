// ABOUTME: Kubernetes-backed EndpointLister using client-go.
// ABOUTME: Lists pods by label selector and reports their pod IPs.

package locate

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// KubeConfig holds the connection parameters for the Kubernetes API.
type KubeConfig struct {
	BaseURL  string
	Token    string
	CAFile   string
	Insecure bool
}

// KubeLister lists pods through the Kubernetes API.
type KubeLister struct {
	client kubernetes.Interface
}

// NewKubeLister builds a client for the API at cfg.BaseURL authenticated
// with a bearer token.
func NewKubeLister(cfg KubeConfig) (*KubeLister, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kubernetes base URL is required")
	}

	restCfg := &rest.Config{
		Host:        cfg.BaseURL,
		BearerToken: cfg.Token,
		TLSClientConfig: rest.TLSClientConfig{
			CAFile:   cfg.CAFile,
			Insecure: cfg.Insecure,
		},
		UserAgent: "bot-manager",
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return &KubeLister{client: client}, nil
}

// NewKubeListerFromClient wraps an existing clientset.
func NewKubeListerFromClient(client kubernetes.Interface) *KubeLister {
	return &KubeLister{client: client}
}

// ListEndpointsByLabel implements EndpointLister.
func (k *KubeLister) ListEndpointsByLabel(ctx context.Context, namespace, selector string) ([]Endpoint, error) {
	pods, err := k.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(pods.Items))
	for _, pod := range pods.Items {
		endpoints = append(endpoints, Endpoint{
			Name:    pod.Name,
			Address: pod.Status.PodIP,
		})
	}
	return endpoints, nil
}
