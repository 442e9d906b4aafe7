package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"

	"kubemin-stack/pkg/stack/config"
	"kubemin-stack/pkg/stack/manifest"
)

const ns = "app-ns"

func newTestClient(objs ...runtime.Object) (*fake.Clientset, *manifest.Set, *KubeClient) {
	cs := fake.NewSimpleClientset(objs...)
	set := manifest.Default(manifest.Options{IngressHost: "app.example.com", IngressClass: "nginx"})
	return cs, set, NewKubeClient(cs, set, WithRunID("run-1"))
}

func applyAll(t *testing.T, k *KubeClient, set *manifest.Set) {
	t.Helper()
	for _, e := range set.Entries() {
		require.NoError(t, k.Apply(context.Background(), e.Resource), manifest.ID(e.Resource))
	}
}

func TestApplyCreatesObjects(t *testing.T) {
	cs, set, k := newTestClient()
	ctx := context.Background()
	applyAll(t, k, set)

	nsObj, err := cs.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", nsObj.Annotations[config.AnnotationRunID])

	cm, err := cs.CoreV1().ConfigMaps(ns).Get(ctx, manifest.ConfigName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "3001", cm.Data["PORT"])

	sts, err := cs.AppsV1().StatefulSets(ns).Get(ctx, manifest.UnitDB, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, manifest.UnitDB, sts.Spec.ServiceName)

	svc, err := cs.CoreV1().Services(ns).Get(ctx, manifest.UnitDB, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, corev1.ClusterIPNone, svc.Spec.ClusterIP)

	for _, name := range []string{manifest.UnitAPI, manifest.UnitWeb} {
		dep, err := cs.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, int32(2), *dep.Spec.Replicas)
	}

	ing, err := cs.NetworkingV1().Ingresses(ns).Get(ctx, manifest.RoutingName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", ing.Spec.Rules[0].Host)

	for _, e := range set.Entries() {
		ok, err := k.Exists(ctx, e.Resource)
		require.NoError(t, err)
		assert.True(t, ok, manifest.ID(e.Resource))
	}
}

func TestApplyTwiceUpdates(t *testing.T) {
	cs, set, k := newTestClient()
	applyAll(t, k, set)
	cs.ClearActions()
	applyAll(t, k, set)

	var creates, updates int
	for _, a := range cs.Actions() {
		switch a.GetVerb() {
		case "create":
			creates++
		case "update":
			updates++
		}
	}
	assert.Zero(t, creates)
	// namespace, secret, config, 3 services, sts, 2 deployments, ingress
	assert.Equal(t, 10, updates)
}

func TestApplyKeepsClusterIP(t *testing.T) {
	existing := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: manifest.UnitAPI, Namespace: ns},
		Spec:       corev1.ServiceSpec{ClusterIP: "10.96.0.12", ClusterIPs: []string{"10.96.0.12"}},
	}
	cs, set, k := newTestClient(existing)
	api, _ := set.Unit(manifest.UnitAPI)
	require.NoError(t, k.Apply(context.Background(), api))

	svc, err := cs.CoreV1().Services(ns).Get(context.Background(), manifest.UnitAPI, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.96.0.12", svc.Spec.ClusterIP)
	assert.Equal(t, "run-1", svc.Annotations[config.AnnotationRunID])
	assert.Equal(t, int32(3001), svc.Spec.Ports[0].Port)
}

func TestApplySecretOverride(t *testing.T) {
	cs := fake.NewSimpleClientset()
	set := manifest.Default(manifest.Options{})
	k := NewKubeClient(cs, set, WithSecretLookup(func(key string) (string, bool) {
		if key == "STACK_DB_PASSWORD" {
			return "pa55", true
		}
		return "", false
	}))
	require.NoError(t, k.Apply(context.Background(), set.Secrets))

	secret, err := cs.CoreV1().Secrets(ns).Get(context.Background(), manifest.SecretsName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pa55", string(secret.Data["MONGO_INITDB_ROOT_PASSWORD"]))
	assert.Empty(t, secret.Annotations[config.AnnotationRunID])
}

func TestApplyRejected(t *testing.T) {
	cs, set, k := newTestClient()
	cs.PrependReactor("create", "ingresses", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("admission webhook denied the request")
	})
	err := k.Apply(context.Background(), set.Routes[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestReady(t *testing.T) {
	cs, set, k := newTestClient()
	ctx := context.Background()
	db, _ := set.Unit(manifest.UnitDB)
	api, _ := set.Unit(manifest.UnitAPI)

	ready, err := k.Ready(ctx, db)
	require.NoError(t, err)
	assert.False(t, ready, "missing statefulset is not ready")

	require.NoError(t, k.Apply(ctx, db))
	ready, err = k.Ready(ctx, db)
	require.NoError(t, err)
	assert.False(t, ready)

	sts, err := cs.AppsV1().StatefulSets(ns).Get(ctx, manifest.UnitDB, metav1.GetOptions{})
	require.NoError(t, err)
	sts.Status.ReadyReplicas = 1
	_, err = cs.AppsV1().StatefulSets(ns).UpdateStatus(ctx, sts, metav1.UpdateOptions{})
	require.NoError(t, err)
	ready, err = k.Ready(ctx, db)
	require.NoError(t, err)
	assert.True(t, ready)

	require.NoError(t, k.Apply(ctx, api))
	dep, err := cs.AppsV1().Deployments(ns).Get(ctx, manifest.UnitAPI, metav1.GetOptions{})
	require.NoError(t, err)
	dep.Status = appsv1.DeploymentStatus{UpdatedReplicas: 2, AvailableReplicas: 2, ReadyReplicas: 2}
	_, err = cs.AppsV1().Deployments(ns).UpdateStatus(ctx, dep, metav1.UpdateOptions{})
	require.NoError(t, err)
	ready, err = k.Ready(ctx, api)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReadyError(t *testing.T) {
	cs, set, k := newTestClient()
	cs.PrependReactor("get", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})
	db, _ := set.Unit(manifest.UnitDB)
	ready, err := k.Ready(context.Background(), db)
	require.Error(t, err)
	assert.False(t, ready)
}

func TestStatefulSetReady(t *testing.T) {
	tests := []struct {
		name     string
		replicas *int32
		ready    int32
		want     bool
	}{
		{name: "all ready", replicas: ptr.To[int32](3), ready: 3, want: true},
		{name: "partially ready", replicas: ptr.To[int32](3), ready: 2, want: false},
		{name: "scaled to zero", replicas: ptr.To[int32](0), ready: 0, want: false},
		{name: "replicas unset", replicas: nil, ready: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sts := &appsv1.StatefulSet{
				Spec:   appsv1.StatefulSetSpec{Replicas: tt.replicas},
				Status: appsv1.StatefulSetStatus{ReadyReplicas: tt.ready},
			}
			assert.Equal(t, tt.want, statefulSetReady(sts))
		})
	}
}

func TestPing(t *testing.T) {
	cs, _, k := newTestClient()
	require.NoError(t, k.Ping(context.Background()))

	cs.PrependReactor("get", "version", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("dial tcp: connection refused")
	})
	err := k.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster unreachable")
}

func TestExistsMissing(t *testing.T) {
	_, set, k := newTestClient()
	ok, err := k.Exists(context.Background(), set.Namespace)
	require.NoError(t, err)
	assert.False(t, ok)
}
