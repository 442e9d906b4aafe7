package cluster

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"kubemin-stack/pkg/stack/config"
)

// RestConfig resolves the cluster connection. An explicit kubeconfig path
// wins; otherwise the usual in-cluster / KUBECONFIG / ~/.kube/config chain is used.
func RestConfig(c *config.Config) (*rest.Config, error) {
	var (
		conf *rest.Config
		err  error
	)
	if c.Kubeconfig != "" {
		conf, err = clientcmd.BuildConfigFromFlags("", c.Kubeconfig)
	} else {
		conf, err = ctrlconfig.GetConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	conf.QPS = float32(c.KubeQPS)
	conf.Burst = c.KubeBurst
	conf.UserAgent = config.ManagedBy
	return conf, nil
}

// NewClientset builds a typed clientset from the configuration.
func NewClientset(c *config.Config) (kubernetes.Interface, error) {
	conf, err := RestConfig(c)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(conf)
	if err != nil {
		return nil, fmt.Errorf("create kube client: %w", err)
	}
	return cs, nil
}
