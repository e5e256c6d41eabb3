package project

// MergeTarget computes the effective target configuration as
// defaults ∪ target, with target fields winning on scalars and list
// fields (DependsOn, Inputs, Outputs) deduplicated preserving
// first-occurrence order, per spec.md §4.1.
func MergeTarget(defaults, target Target) Target {
	out := defaults
	out.Name = target.Name

	if target.Executor != "" {
		out.Executor = target.Executor
	}
	if target.Command != "" {
		out.Command = target.Command
	}
	if target.Cwd != "" {
		out.Cwd = target.Cwd
	}
	if target.TimeoutSeconds != 0 {
		out.TimeoutSeconds = target.TimeoutSeconds
	}
	if target.Parallelism != nil {
		out.Parallelism = target.Parallelism
	}
	if target.RemoteExecution != nil {
		out.RemoteExecution = target.RemoteExecution
	}
	// Cache has no "unset" representation distinct from false, so the
	// effective value is true when either side sets it: a target-level true
	// opts a default-off target into caching, and a target cannot turn off
	// caching that its defaults turn on.
	out.Cache = defaults.Cache || target.Cache

	out.Options = mergeOptionMaps(defaults.Options, target.Options)
	out.Env = mergeStringMaps(defaults.Env, target.Env)
	out.DependsOn = dedupPreserveOrder(defaults.DependsOn, target.DependsOn)
	out.Inputs = dedupPreserveOrder(defaults.Inputs, target.Inputs)
	out.Outputs = dedupPreserveOrder(defaults.Outputs, target.Outputs)

	return out
}

func dedupPreserveOrder(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeOptionMaps(defaults, target map[string]any) map[string]any {
	if len(defaults) == 0 && len(target) == 0 {
		return nil
	}
	out := make(map[string]any, len(defaults)+len(target))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range target {
		out[k] = v
	}
	return out
}

func mergeStringMaps(defaults, target map[string]string) map[string]string {
	if len(defaults) == 0 && len(target) == 0 {
		return nil
	}
	out := make(map[string]string, len(defaults)+len(target))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range target {
		out[k] = v
	}
	return out
}
