package cluster

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"kubemin-stack/pkg/stack/config"
	"kubemin-stack/pkg/stack/manifest"
)

// Client is the slice of the cluster API the orchestrator needs.
type Client interface {
	// Ping checks that the API server answers.
	Ping(ctx context.Context) error
	// Apply creates or updates the objects backing res.
	Apply(ctx context.Context, res manifest.Resource) error
	// Ready reports whether every replica of the unit is ready.
	Ready(ctx context.Context, unit *manifest.ServiceUnit) (bool, error)
	// Exists reports whether the objects backing res are present.
	Exists(ctx context.Context, res manifest.Resource) (bool, error)
}

// KubeClient implements Client with a typed clientset.
type KubeClient struct {
	cs     kubernetes.Interface
	set    *manifest.Set
	runID  string
	lookup func(string) (string, bool)
}

var _ Client = &KubeClient{}

// Option customises a KubeClient.
type Option func(*KubeClient)

// WithRunID stamps applied objects with the run ID annotation.
func WithRunID(id string) Option {
	return func(k *KubeClient) { k.runID = id }
}

// WithSecretLookup sets the resolver for secret override variables.
func WithSecretLookup(lookup func(string) (string, bool)) Option {
	return func(k *KubeClient) { k.lookup = lookup }
}

func NewKubeClient(cs kubernetes.Interface, set *manifest.Set, opts ...Option) *KubeClient {
	k := &KubeClient{cs: cs, set: set}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *KubeClient) namespace() string { return k.set.Namespace.Name }

func (k *KubeClient) Ping(ctx context.Context) error {
	v, err := k.cs.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("cluster unreachable: %w", err)
	}
	klog.FromContext(ctx).V(2).Info("Cluster reachable", "version", v.GitVersion)
	return nil
}

func (k *KubeClient) Apply(ctx context.Context, res manifest.Resource) error {
	ns := k.namespace()
	switch r := res.(type) {
	case *manifest.Namespace:
		return createOrUpdate[*corev1.Namespace](ctx, k.cs.CoreV1().Namespaces(), stamp(k.runID, k.set.RenderNamespace()), nil)
	case *manifest.ConfigSet:
		return createOrUpdate[*corev1.ConfigMap](ctx, k.cs.CoreV1().ConfigMaps(ns), stamp(k.runID, k.set.RenderConfigMap()), nil)
	case *manifest.SecretSet:
		secret := k.set.RenderSecret(k.lookup, false)
		klog.FromContext(ctx).V(4).Info("Applying secret", "name", secret.Name, "keys", manifest.SecretKeys(secret))
		return createOrUpdate[*corev1.Secret](ctx, k.cs.CoreV1().Secrets(ns), stamp(k.runID, secret), nil)
	case *manifest.ServiceUnit:
		objs, err := k.set.RenderUnit(r)
		if err != nil {
			return err
		}
		if err := createOrUpdate[*corev1.Service](ctx, k.cs.CoreV1().Services(ns), stamp(k.runID, objs.Service), mutateService); err != nil {
			return err
		}
		if objs.StatefulSet != nil {
			return createOrUpdate[*appsv1.StatefulSet](ctx, k.cs.AppsV1().StatefulSets(ns), stamp(k.runID, objs.StatefulSet), mutateStatefulSet)
		}
		return createOrUpdate[*appsv1.Deployment](ctx, k.cs.AppsV1().Deployments(ns), stamp(k.runID, objs.Deployment), nil)
	case *manifest.RoutingRule:
		return createOrUpdate[*networkingv1.Ingress](ctx, k.cs.NetworkingV1().Ingresses(ns), stamp(k.runID, k.set.RenderRoutingRule(r)), nil)
	default:
		return fmt.Errorf("unsupported resource %T", res)
	}
}

func (k *KubeClient) Ready(ctx context.Context, unit *manifest.ServiceUnit) (bool, error) {
	ns := k.namespace()
	if unit.Stateful {
		sts, err := k.cs.AppsV1().StatefulSets(ns).Get(ctx, unit.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return statefulSetReady(sts), nil
	}
	dep, err := k.cs.AppsV1().Deployments(ns).Get(ctx, unit.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deploymentReady(dep), nil
}

func (k *KubeClient) Exists(ctx context.Context, res manifest.Resource) (bool, error) {
	ns := k.namespace()
	name := res.ResourceName()
	var err error
	switch r := res.(type) {
	case *manifest.Namespace:
		_, err = k.cs.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	case *manifest.ConfigSet:
		_, err = k.cs.CoreV1().ConfigMaps(ns).Get(ctx, name, metav1.GetOptions{})
	case *manifest.SecretSet:
		_, err = k.cs.CoreV1().Secrets(ns).Get(ctx, name, metav1.GetOptions{})
	case *manifest.ServiceUnit:
		if r.Stateful {
			_, err = k.cs.AppsV1().StatefulSets(ns).Get(ctx, name, metav1.GetOptions{})
		} else {
			_, err = k.cs.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
		}
		if err == nil {
			_, err = k.cs.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
		}
	case *manifest.RoutingRule:
		_, err = k.cs.NetworkingV1().Ingresses(ns).Get(ctx, name, metav1.GetOptions{})
	default:
		return false, fmt.Errorf("unsupported resource %T", res)
	}
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func stamp[T metav1.Object](runID string, obj T) T {
	if runID == "" {
		return obj
	}
	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[config.AnnotationRunID] = runID
	obj.SetAnnotations(annotations)
	return obj
}

// statefulSetReady follows the informer status rule: every desired replica ready.
func statefulSetReady(sts *appsv1.StatefulSet) bool {
	var replicas int32
	if sts.Spec.Replicas != nil {
		replicas = *sts.Spec.Replicas
	}
	return replicas > 0 && replicas == sts.Status.ReadyReplicas
}

func deploymentReady(dep *appsv1.Deployment) bool {
	var replicas int32 = 1
	if dep.Spec.Replicas != nil {
		replicas = *dep.Spec.Replicas
	}
	return dep.Status.ObservedGeneration >= dep.Generation &&
		dep.Status.UpdatedReplicas == replicas &&
		dep.Status.AvailableReplicas == replicas
}
