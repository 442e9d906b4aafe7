package manifest

import (
	"bytes"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"kubemin-stack/pkg/stack/config"
)

const redactedValue = "<redacted>"

// UnitObjects are the Kubernetes objects backing one ServiceUnit. Exactly one
// of StatefulSet and Deployment is set.
type UnitObjects struct {
	StatefulSet *appsv1.StatefulSet
	Deployment  *appsv1.Deployment
	Service     *corev1.Service
}

// Labels returns the selector labels of a unit.
func Labels(unit string) map[string]string {
	return map[string]string{
		config.LabelName:      unit,
		config.LabelPartOf:    config.PartOf,
		config.LabelManagedBy: config.ManagedBy,
	}
}

func commonLabels() map[string]string {
	return map[string]string{
		config.LabelPartOf:    config.PartOf,
		config.LabelManagedBy: config.ManagedBy,
	}
}

func (s *Set) meta(name string, labels map[string]string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      name,
		Namespace: s.Namespace.Name,
		Labels:    labels,
	}
}

// RenderNamespace renders the namespace.
func (s *Set) RenderNamespace() *corev1.Namespace {
	return &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{
			Name:   s.Namespace.Name,
			Labels: commonLabels(),
		},
	}
}

// RenderConfigMap renders the config set.
func (s *Set) RenderConfigMap() *corev1.ConfigMap {
	if s.Config == nil {
		return nil
	}
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: s.meta(s.Config.Name, commonLabels()),
		Data:       s.Config.Data(),
	}
}

// RenderSecret renders the secret set. lookup resolves override env vars;
// redact replaces every value with a placeholder.
func (s *Set) RenderSecret(lookup func(string) (string, bool), redact bool) *corev1.Secret {
	if s.Secrets == nil {
		return nil
	}
	data := map[string][]byte{}
	for k, v := range s.Secrets.Resolve(lookup) {
		if redact {
			v = redactedValue
		}
		data[k] = []byte(v)
	}
	return &corev1.Secret{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: s.meta(s.Secrets.Name, commonLabels()),
		Type:       corev1.SecretTypeOpaque,
		Data:       data,
	}
}

// RenderUnit renders a unit as a StatefulSet with a headless Service, or a
// Deployment with a ClusterIP Service.
func (s *Set) RenderUnit(u *ServiceUnit) (*UnitObjects, error) {
	container, err := s.container(u)
	if err != nil {
		return nil, err
	}
	labels := Labels(u.Name)
	podLabels := Labels(u.Name)
	if u.Stateful {
		labels[config.LabelComponent] = "stateful"
		podLabels[config.LabelComponent] = "stateful"
	} else {
		labels[config.LabelComponent] = "stateless"
		podLabels[config.LabelComponent] = "stateless"
	}
	template := corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
		Spec:       corev1.PodSpec{Containers: []corev1.Container{container}},
	}
	selector := &metav1.LabelSelector{MatchLabels: Labels(u.Name)}

	svc := &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: s.meta(u.Name, labels),
		Spec: corev1.ServiceSpec{
			Selector: Labels(u.Name),
			Ports: []corev1.ServicePort{{
				Name:       "tcp",
				Port:       u.Port,
				TargetPort: intstr.FromInt32(u.Port),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}

	if !u.Stateful {
		return &UnitObjects{
			Deployment: &appsv1.Deployment{
				TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
				ObjectMeta: s.meta(u.Name, labels),
				Spec: appsv1.DeploymentSpec{
					Replicas: ptr.To(u.Replicas),
					Selector: selector,
					Template: template,
				},
			},
			Service: svc,
		}, nil
	}

	svc.Spec.ClusterIP = corev1.ClusterIPNone
	sts := &appsv1.StatefulSet{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "StatefulSet"},
		ObjectMeta: s.meta(u.Name, labels),
		Spec: appsv1.StatefulSetSpec{
			Replicas:    ptr.To(u.Replicas),
			ServiceName: u.Name,
			Selector:    selector,
			Template:    template,
		},
	}
	if u.Storage != nil {
		pvc, err := buildPVC("data", u.Storage)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		sts.Spec.VolumeClaimTemplates = []corev1.PersistentVolumeClaim{pvc}
		sts.Spec.Template.Spec.Containers[0].VolumeMounts = []corev1.VolumeMount{{
			Name:      "data",
			MountPath: u.Storage.MountPath,
		}}
	}
	return &UnitObjects{StatefulSet: sts, Service: svc}, nil
}

func (s *Set) container(u *ServiceUnit) (corev1.Container, error) {
	res, err := buildResources(u.Resources)
	if err != nil {
		return corev1.Container{}, fmt.Errorf("unit %s: %w", u.Name, err)
	}
	c := corev1.Container{
		Name:            u.Name,
		Image:           u.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Ports:           []corev1.ContainerPort{{Name: "tcp", ContainerPort: u.Port, Protocol: corev1.ProtocolTCP}},
		Env:             s.envVars(u),
		Resources:       res,
		ReadinessProbe:  buildProbe(u.Readiness, u.Port),
		LivenessProbe:   buildProbe(u.Liveness, u.Port),
	}
	return c, nil
}

func (s *Set) envVars(u *ServiceUnit) []corev1.EnvVar {
	var envs []corev1.EnvVar
	for _, b := range u.Env {
		env := corev1.EnvVar{Name: b.Name}
		switch {
		case b.ConfigKey != "" && s.Config != nil:
			env.ValueFrom = &corev1.EnvVarSource{
				ConfigMapKeyRef: &corev1.ConfigMapKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: s.Config.Name},
					Key:                  b.ConfigKey,
				},
			}
		case b.SecretKey != "" && s.Secrets != nil:
			env.ValueFrom = &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: s.Secrets.Name},
					Key:                  b.SecretKey,
				},
			}
		default:
			env.Value = b.Value
		}
		envs = append(envs, env)
	}
	return envs
}

func buildProbe(p *ProbeSpec, unitPort int32) *corev1.Probe {
	if p == nil {
		return nil
	}
	port := p.Port
	if port == 0 {
		port = unitPort
	}
	probe := &corev1.Probe{
		InitialDelaySeconds: p.InitialDelaySeconds,
		PeriodSeconds:       p.PeriodSeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
		FailureThreshold:    p.FailureThreshold,
	}
	switch {
	case p.HTTPPath != "":
		probe.ProbeHandler.HTTPGet = &corev1.HTTPGetAction{Path: p.HTTPPath, Port: intstr.FromInt32(port)}
	case p.TCP:
		probe.ProbeHandler.TCPSocket = &corev1.TCPSocketAction{Port: intstr.FromInt32(port)}
	case len(p.Exec) > 0:
		probe.ProbeHandler.Exec = &corev1.ExecAction{Command: p.Exec}
	}
	return probe
}

func buildResources(spec ResourceSpec) (corev1.ResourceRequirements, error) {
	var req corev1.ResourceRequirements
	set := func(list *corev1.ResourceList, name corev1.ResourceName, value string) error {
		if value == "" {
			return nil
		}
		qty, err := resource.ParseQuantity(value)
		if err != nil {
			return fmt.Errorf("invalid %s quantity %q: %w", name, value, err)
		}
		if *list == nil {
			*list = corev1.ResourceList{}
		}
		(*list)[name] = qty
		return nil
	}
	if err := set(&req.Requests, corev1.ResourceCPU, spec.RequestCPU); err != nil {
		return req, err
	}
	if err := set(&req.Requests, corev1.ResourceMemory, spec.RequestMemory); err != nil {
		return req, err
	}
	if err := set(&req.Limits, corev1.ResourceCPU, spec.LimitCPU); err != nil {
		return req, err
	}
	if err := set(&req.Limits, corev1.ResourceMemory, spec.LimitMemory); err != nil {
		return req, err
	}
	return req, nil
}

func buildPVC(name string, storage *StorageSpec) (corev1.PersistentVolumeClaim, error) {
	qty, err := resource.ParseQuantity(storage.Size)
	if err != nil {
		return corev1.PersistentVolumeClaim{}, fmt.Errorf("invalid storage size %s: %w", storage.Size, err)
	}
	pvc := corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: qty},
			},
		},
	}
	if storage.StorageClass != "" {
		pvc.Spec.StorageClassName = ptr.To(storage.StorageClass)
	}
	return pvc, nil
}

// RenderRoutingRule renders a routing rule as an Ingress.
func (s *Set) RenderRoutingRule(r *RoutingRule) *networkingv1.Ingress {
	paths := make([]networkingv1.HTTPIngressPath, 0, len(r.Paths))
	for _, p := range r.Paths {
		paths = append(paths, networkingv1.HTTPIngressPath{
			Path:     p.PathPrefix,
			PathType: ptr.To(networkingv1.PathTypePrefix),
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: p.Target,
					Port: networkingv1.ServiceBackendPort{Number: p.TargetPort},
				},
			},
		})
	}
	ing := &networkingv1.Ingress{
		TypeMeta:   metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "Ingress"},
		ObjectMeta: s.meta(r.Name, commonLabels()),
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: r.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
				},
			}},
		},
	}
	if r.ClassName != "" {
		ing.Spec.IngressClassName = ptr.To(r.ClassName)
	}
	return ing
}

// Render returns every object of the set in rollout order.
func (s *Set) Render(lookup func(string) (string, bool), redact bool) ([]runtime.Object, error) {
	var objs []runtime.Object
	for _, e := range s.Entries() {
		switch res := e.Resource.(type) {
		case *Namespace:
			objs = append(objs, s.RenderNamespace())
		case *SecretSet:
			objs = append(objs, s.RenderSecret(lookup, redact))
		case *ConfigSet:
			objs = append(objs, s.RenderConfigMap())
		case *ServiceUnit:
			uo, err := s.RenderUnit(res)
			if err != nil {
				return nil, err
			}
			if uo.StatefulSet != nil {
				objs = append(objs, uo.Service, uo.StatefulSet)
			} else {
				objs = append(objs, uo.Deployment, uo.Service)
			}
		case *RoutingRule:
			objs = append(objs, s.RenderRoutingRule(res))
		default:
			return nil, fmt.Errorf("unsupported resource %T", e.Resource)
		}
	}
	return objs, nil
}

// RenderYAML writes objs as a multi-document YAML stream.
func RenderYAML(objs []runtime.Object) ([]byte, error) {
	var buf bytes.Buffer
	for i, obj := range objs {
		out, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("marshal object %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}

// SecretKeys returns the sorted keys of a rendered secret, for logs.
func SecretKeys(secret *corev1.Secret) []string {
	keys := make([]string, 0, len(secret.Data))
	for k := range secret.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
