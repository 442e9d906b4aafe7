package cluster

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
)

// objectClient is the Get/Create/Update subset shared by the typed clients.
type objectClient[T metav1.Object] interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Update(ctx context.Context, obj T, opts metav1.UpdateOptions) (T, error)
}

// createOrUpdate creates desired, or updates the live object in place when it
// already exists. mutate copies server-owned fields from the live object.
func createOrUpdate[T metav1.Object](ctx context.Context, cli objectClient[T], desired T, mutate func(live, desired T)) error {
	logger := klog.FromContext(ctx)
	name := desired.GetName()

	live, err := cli.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return fmt.Errorf("get %s: %w", name, err)
		}
		if _, err := cli.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		logger.V(2).Info("Created object", "kind", fmt.Sprintf("%T", desired), "name", name)
		return nil
	}

	desired.SetResourceVersion(live.GetResourceVersion())
	if mutate != nil {
		mutate(live, desired)
	}
	if _, err := cli.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	logger.V(2).Info("Updated object", "kind", fmt.Sprintf("%T", desired), "name", name)
	return nil
}

func mutateService(live, desired *corev1.Service) {
	desired.Spec.ClusterIP = live.Spec.ClusterIP
	desired.Spec.ClusterIPs = live.Spec.ClusterIPs
}

// volume claim templates cannot change after creation.
func mutateStatefulSet(live, desired *appsv1.StatefulSet) {
	if len(live.Spec.VolumeClaimTemplates) > 0 {
		desired.Spec.VolumeClaimTemplates = live.Spec.VolumeClaimTemplates
	}
}
