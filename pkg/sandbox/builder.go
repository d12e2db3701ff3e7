package sandbox

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

// beforeDoneSentinel is the fixed path the init wrapper touches once
// beforeScript completes, and the readiness probe polls for.
const beforeDoneSentinel = "/tmp/k7_before_done"

const (
	labelApp     = "app"
	labelRuntime = "runtime"
	labelSandbox = "katakate.org/sandbox"
)

// sandboxLabels returns the full label set stamped on the workload and its
// pod template: app selector label, runtime=kata, and the sandbox label
// both network policies select on. Invariant: the app and sandbox labels
// are never produced independently of one another.
func sandboxLabels(name string) map[string]string {
	return map[string]string{
		labelApp:     name,
		labelRuntime: "kata",
		labelSandbox: name,
	}
}

// podTemplateLabels is the label set stamped on the pod template. It is the
// same set as sandboxLabels (app, runtime=kata, sandbox), so the workload
// and its pods carry identical labels — see invariant in spec.md §3.
func podTemplateLabels(name string) map[string]string {
	return sandboxLabels(name)
}

// mainCommand builds the main container's command, rewriting it around the
// optional before_script per spec.md §4.2.
func mainCommand(spec *SandboxSpec) []string {
	script := spec.BeforeScript
	if script == "" {
		return []string{"sleep", "365d"}
	}
	cmd := "set -euo pipefail; rm -f " + beforeDoneSentinel + "; " +
		script + "; touch " + beforeDoneSentinel + "; exec sleep 365d"
	return []string{"/bin/sh", "-c", cmd}
}

// readinessProbe builds the container readiness probe per spec.md §4.2: a
// sentinel-file check when before_script is set (converging to Ready
// roughly 60s after the initial delay), otherwise an immediate pass.
func readinessProbe(spec *SandboxSpec) *corev1.Probe {
	if spec.BeforeScript != "" {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				Exec: &corev1.ExecAction{
					Command: []string{"/bin/sh", "-c", "test -f " + beforeDoneSentinel},
				},
			},
			InitialDelaySeconds: 1,
			PeriodSeconds:       2,
			TimeoutSeconds:      2,
			FailureThreshold:    30,
		}
	}
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			Exec: &corev1.ExecAction{
				Command: []string{"/bin/sh", "-c", "true"},
			},
		},
		InitialDelaySeconds: 0,
		PeriodSeconds:       2,
	}
}

func containerSecurityContext(spec *SandboxSpec) *corev1.SecurityContext {
	sc := &corev1.SecurityContext{
		AllowPrivilegeEscalation: ptr.To(false),
		SeccompProfile:           &corev1.SeccompProfile{Type: corev1.SeccompProfileTypeRuntimeDefault},
		Capabilities: &corev1.Capabilities{
			Drop: capList(spec.DropCapabilities()),
			Add:  capList(spec.AddCapabilities()),
		},
	}
	if spec.ContainerNonRoot {
		sc.RunAsNonRoot = ptr.To(true)
		sc.RunAsUser = ptr.To(int64(65532))
	}
	return sc
}

func capList(in []string) []corev1.Capability {
	if len(in) == 0 {
		return nil
	}
	out := make([]corev1.Capability, len(in))
	for i, c := range in {
		out[i] = corev1.Capability(c)
	}
	return out
}

func podSecurityContext(spec *SandboxSpec) *corev1.PodSecurityContext {
	if !spec.PodNonRoot {
		return nil
	}
	return &corev1.PodSecurityContext{
		RunAsNonRoot: ptr.To(true),
		RunAsUser:    ptr.To(int64(65532)),
		RunAsGroup:   ptr.To(int64(65532)),
		FSGroup:      ptr.To(int64(65532)),
	}
}

func resourceList(limits map[string]string) corev1.ResourceList {
	if len(limits) == 0 {
		return nil
	}
	out := make(corev1.ResourceList, len(limits))
	for key, value := range limits {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			// Validate() rejects unparseable known keys before this is ever
			// called; unknown keys that happen to be unparseable are simply
			// skipped rather than propagating an error from a pure builder.
			continue
		}
		out[corev1.ResourceName(key)] = q
	}
	return out
}

// BuildWorkload maps a validated SandboxSpec to the desired Deployment.
// Calling it twice on the same spec yields byte-identical objects
// (spec.md §8.4): it is a pure function of its input.
func BuildWorkload(spec *SandboxSpec) *appsv1.Deployment {
	container := corev1.Container{
		Name:            "sandbox",
		Image:           spec.Image,
		Command:         mainCommand(spec),
		SecurityContext: containerSecurityContext(spec),
		ReadinessProbe:  readinessProbe(spec),
		Resources: corev1.ResourceRequirements{
			Limits:   resourceList(spec.Limits),
			Requests: resourceList(spec.Limits),
		},
	}
	if spec.EnvFile != "" {
		container.EnvFrom = []corev1.EnvFromSource{
			{SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: envSecretName(spec.Name)},
			}},
		}
	}

	pod := corev1.PodSpec{
		Containers:       []corev1.Container{container},
		RuntimeClassName: ptr.To(spec.RuntimeClassName),
		RestartPolicy:    corev1.RestartPolicyAlways,
		SecurityContext:  podSecurityContext(spec),
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    sandboxLabels(spec.Name),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{labelApp: spec.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: podTemplateLabels(spec.Name),
				},
				Spec: pod,
			},
		},
	}
}

func envSecretName(name string) string { return name + "-env" }
func egressPolicyName(name string) string { return name + "-netpol" }
func ingressDenyPolicyName(name string) string { return name + "-deny-ingress" }

// BuildEnvSecret builds the <name>-env secret from already-parsed env
// variables. Callers only invoke this when the spec's envFile produced a
// non-empty map (spec.md §3: the secret is created iff envFile is present
// and non-empty).
func BuildEnvSecret(spec *SandboxSpec, envVars map[string]string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      envSecretName(spec.Name),
			Namespace: spec.Namespace,
		},
		StringData: envVars,
	}
}

// dnsEgressRule is always appended last to an egress policy's rule list,
// allowing DNS resolution against CoreDNS regardless of the user's
// whitelist.
func dnsEgressRule() networkingv1.NetworkPolicyEgressRule {
	return networkingv1.NetworkPolicyEgressRule{
		To: []networkingv1.NetworkPolicyPeer{
			{
				NamespaceSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{"kubernetes.io/metadata.name": "kube-system"},
				},
				PodSelector: &metav1.LabelSelector{
					MatchLabels: map[string]string{"k8s-app": "kube-dns"},
				},
			},
		},
		Ports: []networkingv1.NetworkPolicyPort{
			{Protocol: protoPtr(corev1.ProtocolUDP), Port: intstrPtr(53)},
			{Protocol: protoPtr(corev1.ProtocolTCP), Port: intstrPtr(53)},
		},
	}
}

func protoPtr(p corev1.Protocol) *corev1.Protocol { return &p }
func intstrPtr(port int) *intstr.IntOrString {
	v := intstr.FromInt32(int32(port))
	return &v
}

// BuildEgressPolicy builds the <name>-netpol NetworkPolicy, or returns nil
// when egressWhitelist was absent (spec.md §8.3: no policy iff absent).
func BuildEgressPolicy(spec *SandboxSpec) *networkingv1.NetworkPolicy {
	egress := spec.Egress()
	if egress.Mode == EgressOpen {
		return nil
	}

	rules := make([]networkingv1.NetworkPolicyEgressRule, 0, len(egress.CIDRs)+1)
	for _, cidr := range egress.CIDRs {
		rules = append(rules, networkingv1.NetworkPolicyEgressRule{
			To: []networkingv1.NetworkPolicyPeer{
				{IPBlock: &networkingv1.IPBlock{CIDR: cidr}},
			},
		})
	}
	rules = append(rules, dnsEgressRule())

	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      egressPolicyName(spec.Name),
			Namespace: spec.Namespace,
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{labelSandbox: spec.Name},
			},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress:      rules,
		},
	}
}

// BuildIngressDenyPolicy builds the <name>-deny-ingress NetworkPolicy. It
// is unconditional: every sandbox gets one regardless of egressWhitelist
// (spec.md §8.2) and no configuration can suppress it.
func BuildIngressDenyPolicy(spec *SandboxSpec) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ingressDenyPolicyName(spec.Name),
			Namespace: spec.Namespace,
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{labelSandbox: spec.Name},
			},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{},
		},
	}
}
