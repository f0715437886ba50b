// ABOUTME: Tests for the location resolver and the Kubernetes lister.
// ABOUTME: Uses client-go's fake clientset and a stub lister for failures.

package locate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

type stubLister struct {
	endpoints []Endpoint
	err       error
	block     bool
	gotNS     string
	gotSel    string
}

func (s *stubLister) ListEndpointsByLabel(ctx context.Context, namespace, selector string) ([]Endpoint, error) {
	s.gotNS = namespace
	s.gotSel = selector
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.endpoints, s.err
}

func botPod(name, namespace, key, ip string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{"bot": key},
		},
		Status: corev1.PodStatus{PodIP: ip},
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ff", Key("255"))
	assert.Equal(t, "112210f47de98115", Key("1234567890123456789"))
	assert.Equal(t, "abc-def", Key("ABC-def"))
	assert.Equal(t, "-5", Key("-5"))
}

func TestResolveWithKubernetes(t *testing.T) {
	client := fake.NewSimpleClientset(
		botPod("bot-a", "bots", "ff", "10.0.0.5"),
		botPod("bot-b", "bots", "aa", "10.0.0.6"),
		botPod("bot-c", "other", "ff", "10.9.9.9"),
	)
	r := NewResolver(NewKubeListerFromClient(client), Options{})

	addr, err := r.Resolve(context.Background(), "ff")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", addr)

	_, err = r.Resolve(context.Background(), "00")
	assert.ErrorIs(t, err, ErrNoLocationFound)
}

func TestResolveQueryShape(t *testing.T) {
	lister := &stubLister{endpoints: []Endpoint{{Name: "p", Address: "10.1.1.1"}}}
	r := NewResolver(lister, Options{Namespace: "fleet", LabelKey: "worker"})

	_, err := r.Resolve(context.Background(), "beef")
	require.NoError(t, err)
	assert.Equal(t, "fleet", lister.gotNS)
	assert.Equal(t, "worker=beef", lister.gotSel)
}

func TestResolveFirstMatchWins(t *testing.T) {
	lister := &stubLister{endpoints: []Endpoint{
		{Name: "one", Address: "10.0.0.1"},
		{Name: "two", Address: "10.0.0.2"},
	}}
	addr, err := NewResolver(lister, Options{}).Resolve(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", addr)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		lister *stubLister
		key    string
		want   error
	}{
		{"no results", &stubLister{}, "k", ErrNoLocationFound},
		{"no address yet", &stubLister{endpoints: []Endpoint{{Name: "pending"}}}, "k", ErrNoLocationFound},
		{"empty key", &stubLister{}, "", ErrNoLocationFound},
		{"transport failure", &stubLister{err: errors.New("connection reset")}, "k", ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.lister, Options{}).Resolve(context.Background(), tt.key)
			assert.ErrorIs(t, err, tt.want)
			if tt.lister.err != nil {
				assert.ErrorIs(t, err, tt.lister.err)
			}
		})
	}
}

func TestResolveTimeout(t *testing.T) {
	r := NewResolver(&stubLister{block: true}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Resolve(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
